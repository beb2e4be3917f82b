package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"

	"inquest/executor"
	"inquest/schema"
)

var (
	headerColor  = color.New(color.FgBlue, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
)

// formatSeverity colors a severity value the way analysts expect to scan it.
func formatSeverity(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return color.New(color.FgRed, color.Bold).Sprint(severity)
	case "high":
		return color.New(color.FgRed).Sprint(severity)
	case "medium":
		return color.New(color.FgYellow).Sprint(severity)
	case "low":
		return color.New(color.FgGreen).Sprint(severity)
	case "informational", "info":
		return color.New(color.FgCyan).Sprint(severity)
	default:
		return severity
	}
}

func printSpec(spec *schema.QuerySpec) {
	headerColor.Println("Query Spec")
	fmt.Printf("  Intent:     %s\n", spec.Intent)
	fmt.Printf("  Data Type:  %s\n", spec.DataType)
	fmt.Printf("  Index:      %s\n", spec.IndexPattern)
	if !spec.TimeRange.Start.IsZero() {
		fmt.Printf("  Time Range: %s .. %s\n",
			spec.TimeRange.Start.Format("2006-01-02 15:04:05"),
			spec.TimeRange.End.Format("2006-01-02 15:04:05"))
	}
	if len(spec.Filters.Severity) > 0 {
		colored := make([]string, len(spec.Filters.Severity))
		for i, s := range spec.Filters.Severity {
			colored[i] = formatSeverity(string(s))
		}
		fmt.Printf("  Severity:   %s\n", strings.Join(colored, ", "))
	}
	if spec.Filters.Vendor != "" {
		fmt.Printf("  Vendor:     %s\n", spec.Filters.Vendor)
	}
	if spec.Filters.Status != "" {
		fmt.Printf("  Status:     %s\n", spec.Filters.Status)
	}
	if len(spec.Filters.Custom) > 0 {
		keys := make([]string, 0, len(spec.Filters.Custom))
		for k := range spec.Filters.Custom {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  Filter:     %s = %v\n", k, spec.Filters.Custom[k])
		}
	}
	if spec.Limit > 0 {
		fmt.Printf("  Limit:      %d\n", spec.Limit)
	}
	fmt.Println()
}

func printResult(result *executor.Result) {
	headerColor.Println("Result")
	fmt.Printf("  Total: %d  Took: %s\n", result.Total, result.Took)

	for i, hit := range result.Hits {
		fmt.Printf("\n  [%d] %s\n", i+1, summarizeHit(hit))
	}
	if len(result.Aggregations) > 0 {
		fmt.Println()
		infoColor.Println("  Aggregations:")
		keys := make([]string, 0, len(result.Aggregations))
		for k := range result.Aggregations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("    %s: %s\n", k, summarizeAggregation(result.Aggregations[k]))
		}
	}
	if result.Correlation != nil {
		fmt.Println()
		infoColor.Printf("  Correlated: %d hits\n", result.Correlation.Total)
	}
	fmt.Println()
}

// summarizeHit renders the few fields that identify a document at a glance.
func summarizeHit(hit map[string]any) string {
	var parts []string
	for _, key := range []string{"incident_id", "alert_id", "endpoint_name", "description", "alert_name", "severity"} {
		v, ok := hit[key]
		if !ok {
			continue
		}
		s := fmt.Sprintf("%v", v)
		if key == "severity" {
			s = formatSeverity(s)
		}
		if len(s) > 80 {
			s = s[:77] + "..."
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return dimColor.Sprintf("%d fields", len(hit))
	}
	return strings.Join(parts, " | ")
}

func summarizeAggregation(agg any) string {
	m, ok := agg.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", agg)
	}
	if v, ok := m["value"]; ok {
		return fmt.Sprintf("%v", v)
	}
	if buckets, ok := m["buckets"].([]any); ok {
		var parts []string
		for _, b := range buckets {
			bm, ok := b.(map[string]any)
			if !ok {
				continue
			}
			key := fmt.Sprintf("%v", bm["key"])
			if ks, ok := bm["key_as_string"].(string); ok {
				key = ks
			}
			parts = append(parts, fmt.Sprintf("%s=%v", formatSeverity(key), bm["doc_count"]))
			if len(parts) == 8 {
				parts = append(parts, "...")
				break
			}
		}
		return strings.Join(parts, " ")
	}
	return dimColor.Sprint("(nested)")
}

func printBundle(bundle *executor.InvestigationBundle) {
	headerColor.Printf("Investigation: %s\n", bundle.IncidentID)
	if bundle.FromCache {
		dimColor.Println("  (from cache)")
	}

	if desc, ok := bundle.Incident["description"].(string); ok && desc != "" {
		fmt.Printf("  %s\n", desc)
	}
	if sev, ok := bundle.Incident["severity"].(string); ok {
		fmt.Printf("  Severity: %s\n", formatSeverity(sev))
	}
	if status, ok := bundle.Incident["status"].(string); ok {
		fmt.Printf("  Status:   %s\n", status)
	}

	fmt.Println()
	infoColor.Println("  Related records:")
	fmt.Printf("    Alerts:    %d\n", bundle.Summary.TotalAlerts)
	fmt.Printf("    Files:     %d\n", bundle.Summary.TotalFiles)
	fmt.Printf("    Networks:  %d\n", bundle.Summary.TotalNetworks)
	fmt.Printf("    Processes: %d\n", bundle.Summary.TotalProcesses)
	fmt.Printf("    Endpoints: %d\n", bundle.Summary.TotalEndpoints)

	if len(bundle.CVEs) > 0 {
		fmt.Println()
		infoColor.Println("  Vulnerabilities:")
		for _, cve := range bundle.CVEs {
			marker := successColor.Sprint("exact")
			if cve.MatchType == "fuzzy" {
				marker = dimColor.Sprintf("fuzzy %.2f", cve.Confidence)
			}
			fmt.Printf("    %s on %s (CVSS %.1f, %s)\n", cve.CVEID, cve.Hostname, cve.CVSSScore, marker)
		}
	}
	fmt.Printf("\n  Took: %s\n", bundle.Took)
}

package builder

import "inquest/schema"

// buildSingleAggregation compiles one explicitly requested metric.
func buildSingleAggregation(aggType schema.AggregationType, tsField string) map[string]any {
	switch aggType {
	case schema.AggTerms:
		return map[string]any{"by_severity": severityTerms()}
	case schema.AggDateHistogram:
		return map[string]any{
			"over_time": map[string]any{
				"date_histogram": dateHistogram(tsField, "1d", ""),
				"aggs":           map[string]any{"by_severity": severityTerms()},
			},
		}
	case schema.AggSum:
		return map[string]any{"total_sum": map[string]any{"sum": map[string]any{"field": "alert_count"}}}
	case schema.AggAvg:
		return map[string]any{"average": map[string]any{"avg": map[string]any{"field": "alert_count"}}}
	default:
		// Count, and anything unrecognized, degrades to a total count.
		return map[string]any{"total_count": map[string]any{"value_count": map[string]any{"field": "_id"}}}
	}
}

// buildReportAggregations assembles the full analysis battery: common facets
// for every data type plus type-specific breakdowns.
func buildReportAggregations(dt schema.DataType, tsField string) map[string]any {
	aggs := map[string]any{
		"by_severity": severityTerms(),
		"over_time": map[string]any{
			"date_histogram": dateHistogram(tsField, "1d", ""),
			"aggs":           map[string]any{"by_severity": severityTerms()},
		},
		"hourly_distribution": map[string]any{
			"date_histogram": dateHistogram(tsField, "1h", "HH"),
		},
		"day_of_week": map[string]any{
			"date_histogram": dateHistogram(tsField, "1d", "E"),
		},
		"by_vendor": terms("vendor.keyword", 10, "unknown"),
	}

	switch dt {
	case schema.DataTypeIncidents:
		aggs["by_status"] = terms("status.keyword", 15, "unknown")
		aggs["by_detection_type"] = detectionTypeFilters()
		aggs["by_host"] = terms("host_name.keyword", 20, "unknown")
		aggs["by_assigned_user"] = terms("assigned_user_mail.keyword", 15, "unassigned")
		aggs["alert_count_distribution"] = histogram("alert_count", 5)
		aggs["host_count_distribution"] = histogram("host_count", 1)
		aggs["by_mitre_technique"] = terms("mitre_technique_id_and_name.keyword", 20, "unknown")
		aggs["by_mitre_tactic"] = terms("mitre_tactic.keyword", 15, "unknown")
		aggs["has_comments"] = hasCommentsFilters()
		aggs["avg_resolution_time"] = map[string]any{
			"avg": map[string]any{
				"script": map[string]any{
					"source": `if (doc.containsKey('resolve_timestamp') && doc.containsKey('creation_time')) { return (doc['resolve_timestamp'].value.millis - doc['creation_time'].value.millis) / 3600000.0; } return null;`,
					"lang":   "painless",
				},
			},
		}

	case schema.DataTypeAlerts:
		aggs["by_mitre_technique"] = terms("mitre_technique_id.keyword", 20, "unknown")
		aggs["by_mitre_tactic"] = terms("mitre_tactic.keyword", 20, "unknown")
		aggs["by_alert_type"] = terms("alert_type.keyword", 15, "unknown")
		aggs["by_source"] = terms("source.keyword", 10, "unknown")
		aggs["by_host"] = terms("host_name.keyword", 20, "unknown")
		aggs["by_user"] = terms("user_name.keyword", 15, "unknown")

	case schema.DataTypeEndpoints:
		aggs["by_os"] = terms("os_type.keyword", 10, "unknown")
		aggs["by_agent_status"] = terms("endpoint_status.keyword", 10, "unknown")
		aggs["by_isolation_status"] = map[string]any{
			"terms": map[string]any{"field": "is_isolated", "size": 2},
		}
		aggs["by_agent_version"] = terms("agent_version.keyword", 10, "unknown")

	case schema.DataTypeTIResults:
		aggs["by_risk_level"] = map[string]any{
			"terms": map[string]any{
				"field": "risk_level.keyword",
				"size":  10,
				"order": map[string]any{"_key": "desc"},
			},
		}
		aggs["by_threat_score"] = histogram("threat_score", 20)
		for name, field := range map[string]string{
			"total_ti_matches":   "ti_matches",
			"matched_hash_count": "matched_hashes",
			"matched_ip_count":   "matched_ips",
			"matched_cve_count":  "matched_cves",
		} {
			aggs[name] = scriptedArraySizeSum(field)
		}
	}

	return aggs
}

func severityTerms() map[string]any {
	return terms("severity.keyword", 10, "unknown")
}

func terms(field string, size int, missing string) map[string]any {
	return map[string]any{
		"terms": map[string]any{"field": field, "size": size, "missing": missing},
	}
}

func histogram(field string, interval int) map[string]any {
	return map[string]any{
		"histogram": map[string]any{"field": field, "interval": interval, "min_doc_count": 1},
	}
}

// dateHistogram builds a calendar bucket. The display zone hint only applies
// to date-typed fields; epoch-millis longs reject it.
func dateHistogram(tsField, interval, format string) map[string]any {
	h := map[string]any{
		"field":             tsField,
		"calendar_interval": interval,
	}
	if !IsEpochMillisField(tsField) {
		h["time_zone"] = reportTimeZone
	}
	if format != "" {
		h["format"] = format
	}
	return h
}

// detectionTypeFilters buckets incidents into true/false positive,
// in-progress, and everything else.
func detectionTypeFilters() map[string]any {
	return map[string]any{
		"filters": map[string]any{
			"filters": map[string]any{
				"true_positive":  map[string]any{"match": map[string]any{"status.keyword": "resolved_threat_handled"}},
				"false_positive": map[string]any{"match": map[string]any{"status.keyword": "resolved_false_positive"}},
				"under_investigation": map[string]any{
					"terms": map[string]any{"status.keyword": []string{"new", "under_investigation"}},
				},
				"other": map[string]any{
					"bool": map[string]any{
						"must_not": []any{
							map[string]any{"terms": map[string]any{"status.keyword": []string{
								"resolved_threat_handled", "resolved_false_positive", "new", "under_investigation",
							}}},
						},
					},
				},
			},
		},
	}
}

func hasCommentsFilters() map[string]any {
	return map[string]any{
		"filters": map[string]any{
			"filters": map[string]any{
				"with_comments": map[string]any{"range": map[string]any{"notes_count": map[string]any{"gt": 0}}},
				"without_comments": map[string]any{
					"bool": map[string]any{
						"should": []any{
							map[string]any{"bool": map[string]any{
								"must_not": map[string]any{"exists": map[string]any{"field": "notes_count"}},
							}},
							map[string]any{"term": map[string]any{"notes_count": 0}},
						},
					},
				},
			},
		},
	}
}

// scriptedArraySizeSum totals the lengths of an array field across hits.
func scriptedArraySizeSum(field string) map[string]any {
	return map[string]any{
		"sum": map[string]any{
			"script": map[string]any{
				"source": `doc.containsKey("` + field + `") && doc["` + field + `"].size() > 0 ? doc["` + field + `"].size() : 0`,
				"lang":   "painless",
			},
		},
	}
}

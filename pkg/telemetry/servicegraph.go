package telemetry

const unknownServiceName = "Unknown Service"

var edgeTargetKeys = []string{"ReferenceId", "referenceId", "TargetId", "targetId", "id", "To", "to"}

// NormalizeServiceGraph maps trace service entries, in PascalCase (X-Ray) or
// camelCase form, onto ServiceGraphNode values. raw may be a list or an object
// holding a "services" list; anything else yields an empty slice.
func NormalizeServiceGraph(raw any) []ServiceGraphNode {
	services, ok := raw.([]any)
	if !ok {
		if obj, isObj := asObject(raw); isObj {
			services, ok = obj["services"].([]any)
		}
	}
	if !ok {
		return []ServiceGraphNode{}
	}
	nodes := make([]ServiceGraphNode, 0, len(services))
	for _, entry := range services {
		service, ok := asObject(entry)
		if !ok {
			continue
		}
		nodes = append(nodes, normalizeService(service))
	}
	return nodes
}

func normalizeService(service map[string]any) ServiceGraphNode {
	summary := firstObject(service, "SummaryStatistics", "summaryStatistics", "metrics")
	errorStats := firstObject(summary, "ErrorStatistics", "errorStatistics")
	faultStats := firstObject(summary, "FaultStatistics", "faultStatistics")
	throttleStats := firstObject(summary, "ThrottleStatistics", "throttleStatistics")

	total, hasTotal := number(summary, "TotalCount", "totalCount", "OkayCount", "okayCount")
	if !hasTotal {
		total, hasTotal = number(service, "requestCount")
	}

	average, hasAverage := number(summary, "AverageResponseTime", "averageResponseTime")
	if !hasAverage {
		average, hasAverage = number(service, "averageResponseTime", "averageResponseTimeMs", "responseTime")
	}
	if !hasAverage {
		if totalTime, ok := number(summary, "TotalResponseTime", "totalResponseTime"); ok && hasTotal && total > 0 {
			average, hasAverage = totalTime/total, true
		}
	}

	node := ServiceGraphNode{
		ID:                    identifier(service, "Id", "id", "Name", "name"),
		ReferenceID:           identifier(service, "ReferenceId", "referenceId"),
		Name:                  stringField(service, "Name", "name"),
		Type:                  stringField(service, "Type", "type", "EntityType"),
		AverageResponseTimeMs: millisPtr(average, hasAverage),
		RequestCount:          countPtr(total, hasTotal),
		ErrorCount:            statCount(errorStats, service, "errorCount", "errorRate"),
		FaultCount:            statCount(faultStats, service, "faultCount"),
		ThrottleCount:         statCount(throttleStats, service, "throttleCount"),
		Edges:                 normalizeEdges(service),
	}
	if node.Name == "" {
		node.Name = unknownServiceName
	}
	if node.Type == "" {
		node.Type = "service"
	}
	return node
}

func normalizeEdges(service map[string]any) []Edge {
	var rawEdges []any
	for _, key := range []string{"Edges", "edges", "downstreamNodes"} {
		if list, ok := service[key].([]any); ok {
			rawEdges = list
			break
		}
	}
	edges := make([]Edge, 0, len(rawEdges))
	for _, entry := range rawEdges {
		edge, ok := asObject(entry)
		if !ok {
			continue
		}
		target := identifier(edge, edgeTargetKeys...)
		if target == "" {
			continue
		}
		summary := firstObject(edge, "SummaryStatistics", "summaryStatistics", "metrics")
		errorStats := firstObject(summary, "ErrorStatistics", "errorStatistics")

		average, hasAverage := number(summary, "AverageResponseTime", "averageResponseTime")
		if !hasAverage {
			average, hasAverage = number(edge, "averageResponseTime", "averageResponseTimeMs")
		}
		if !hasAverage {
			total, hasTotal := number(summary, "TotalCount", "totalCount")
			if totalTime, ok := number(summary, "TotalResponseTime", "totalResponseTime"); ok && hasTotal && total > 0 {
				average, hasAverage = totalTime/total, true
			}
		}
		requests, hasRequests := number(summary, "TotalCount", "totalCount")
		if !hasRequests {
			requests, hasRequests = number(edge, "requestCount")
		}
		edges = append(edges, Edge{
			TargetID:              target,
			AverageResponseTimeMs: millisPtr(average, hasAverage),
			RequestCount:          countPtr(requests, hasRequests),
			ErrorCount:            statCount(errorStats, edge, "errorCount"),
		})
	}
	return edges
}

// statCount reads TotalCount from a statistics block, falling back to flat
// fields on the owner object.
func statCount(stats, owner map[string]any, ownerKeys ...string) *int64 {
	if v, ok := number(stats, "TotalCount", "totalCount"); ok {
		return countPtr(v, true)
	}
	v, ok := number(owner, ownerKeys...)
	return countPtr(v, ok)
}

func firstObject(obj map[string]any, keys ...string) map[string]any {
	if obj == nil {
		return nil
	}
	for _, key := range keys {
		if nested, ok := asObject(obj[key]); ok {
			return nested
		}
	}
	return nil
}

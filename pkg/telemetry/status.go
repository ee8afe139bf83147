package telemetry

import "time"

// PipelineStatus summarises a CodePipeline get-pipeline-state response.
type PipelineStatus struct {
	PipelineName string `json:"pipelineName"`
	Stages       []any  `json:"stages"`
	Timestamp    string `json:"timestamp"`
}

// BuildStatus summarises the newest CodeBuild build of a project.
type BuildStatus struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Phase     string `json:"phase"`
	StartTime any    `json:"startTime,omitempty"`
	EndTime   any    `json:"endTime,omitempty"`
	Logs      any    `json:"logs,omitempty"`
	Timestamp string `json:"timestamp"`
}

// DeployStatus summarises the newest CodeDeploy deployment of a group.
type DeployStatus struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	CreateTime      any    `json:"createTime,omitempty"`
	CompleteTime    any    `json:"completeTime,omitempty"`
	TargetInstances any    `json:"targetInstances,omitempty"`
	Overview        any    `json:"deploymentOverview,omitempty"`
	Timestamp       string `json:"timestamp"`
}

// TargetHealth lists the targets registered in an ALB target group.
type TargetHealth struct {
	TargetGroupArn string `json:"targetGroupArn,omitempty"`
	Targets        []any  `json:"targets"`
	Timestamp      string `json:"timestamp"`
}

// PipelineFromState maps a decoded get-pipeline-state response.
func PipelineFromState(state map[string]any, at time.Time) PipelineStatus {
	return PipelineStatus{
		PipelineName: stringField(state, "pipelineName"),
		Stages:       list(state["stageStates"]),
		Timestamp:    receivedStamp(at),
	}
}

// BuildFromRecord maps one entry of a batch-get-builds response.
func BuildFromRecord(build map[string]any, at time.Time) BuildStatus {
	return BuildStatus{
		ID:        stringField(build, "id"),
		Status:    stringField(build, "buildStatus"),
		Phase:     stringField(build, "currentPhase"),
		StartTime: build["startTime"],
		EndTime:   build["endTime"],
		Logs:      build["logs"],
		Timestamp: receivedStamp(at),
	}
}

// DeployFromInfo maps the deploymentInfo object of a get-deployment response.
func DeployFromInfo(info map[string]any, at time.Time) DeployStatus {
	return DeployStatus{
		ID:              stringField(info, "deploymentId"),
		Status:          stringField(info, "status"),
		CreateTime:      info["createTime"],
		CompleteTime:    info["completeTime"],
		TargetInstances: info["targetInstances"],
		Overview:        info["deploymentOverview"],
		Timestamp:       receivedStamp(at),
	}
}

// TargetHealthFrom maps a decoded describe-target-health response.
func TargetHealthFrom(resp map[string]any, targetGroupArn string, at time.Time) TargetHealth {
	return TargetHealth{
		TargetGroupArn: targetGroupArn,
		Targets:        list(resp["TargetHealthDescriptions"]),
		Timestamp:      receivedStamp(at),
	}
}

// list returns v as a slice, or an empty one.
func list(v any) []any {
	switch items := v.(type) {
	case []any:
		return items
	case []map[string]any:
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item
		}
		return out
	default:
		return []any{}
	}
}

package config

import "time"

// RelayConfig holds runtime configuration for the relay service.
type RelayConfig struct {
	Addr                  string
	LogLevel              string
	LogFile               string
	AWSRegion             string
	AWSCLIPath            string
	AWSCLITimeout         time.Duration
	ECSClusterName        string
	ECSServiceBlue        string
	ECSServiceGreen       string
	ALBArn                string
	TargetGroupBlueArn    string
	TargetGroupGreenArn   string
	CodePipelineName      string
	CodeBuildProjectName  string
	CodeDeployApplication string
	CodeDeployGroup       string
	LogGroupName          string
	MetricPeriod          time.Duration
	MetricsEvery          time.Duration
	XRayEvery             time.Duration
	BroadcastEvery        time.Duration
	SourceCacheTTL        time.Duration
	StartInMock           bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	BroadcastChannel      string
	SSEHeartbeat          time.Duration
}

// LoadRelayConfig constructs a RelayConfig from environment variables.
func LoadRelayConfig() RelayConfig {
	return RelayConfig{
		Addr:                  GetString("RELAY_ADDR", ":8080"),
		LogLevel:              GetString("LOG_LEVEL", "info"),
		LogFile:               GetString("LOG_FILE", ""),
		AWSRegion:             GetString("AWS_REGION", "ap-northeast-2"),
		AWSCLIPath:            GetString("AWS_CLI_PATH", "aws"),
		AWSCLITimeout:         time.Duration(GetInt("AWS_CLI_TIMEOUT_SECONDS", 15)) * time.Second,
		ECSClusterName:        GetString("ECS_CLUSTER_NAME", ""),
		ECSServiceBlue:        GetString("ECS_SERVICE_NAME_BLUE", ""),
		ECSServiceGreen:       GetString("ECS_SERVICE_NAME_GREEN", ""),
		ALBArn:                GetString("ALB_ARN", ""),
		TargetGroupBlueArn:    GetString("ALB_TARGET_GROUP_BLUE_ARN", ""),
		TargetGroupGreenArn:   GetString("ALB_TARGET_GROUP_GREEN_ARN", ""),
		CodePipelineName:      GetString("CODEPIPELINE_NAME", ""),
		CodeBuildProjectName:  GetString("CODEBUILD_PROJECT_NAME", ""),
		CodeDeployApplication: GetString("CODEDEPLOY_APPLICATION_NAME", ""),
		CodeDeployGroup:       GetString("CODEDEPLOY_DEPLOYMENT_GROUP_NAME", ""),
		LogGroupName:          GetString("CLOUDWATCH_LOG_GROUP", "/ecs/app"),
		MetricPeriod:          time.Duration(GetInt("CLOUDWATCH_PERIOD_SECONDS", 60)) * time.Second,
		MetricsEvery:          time.Duration(GetInt("MONITOR_METRICS_SECONDS", 2)) * time.Second,
		XRayEvery:             time.Duration(GetInt("MONITOR_XRAY_SECONDS", 10)) * time.Second,
		BroadcastEvery:        time.Duration(GetInt("BROADCAST_INTERVAL_SECONDS", 60)) * time.Second,
		SourceCacheTTL:        time.Duration(GetInt("SOURCE_CACHE_TTL_SECONDS", 5)) * time.Second,
		StartInMock:           GetBool("RELAY_START_IN_MOCK", false),
		RedisAddr:             GetString("REDIS_ADDR", ""),
		RedisPassword:         GetString("REDIS_PASSWORD", ""),
		RedisDB:               GetInt("REDIS_DB", 0),
		BroadcastChannel:      GetString("REDIS_BROADCAST_CHANNEL", "deploywatch:broadcast"),
		SSEHeartbeat:          GetDuration("SSE_HEARTBEAT", 15*time.Second),
	}
}

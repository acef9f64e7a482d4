package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"tis3d.dev/internal/persistence/mirror"
	"tis3d.dev/internal/sim/tuning"
)

// applyEnvOverrides lets ops change a few knobs without editing tuning.yaml.
func applyEnvOverrides(t *tuning.Tuning) {
	t.TickRateHz = envInt("TIS3D_TICK_RATE_HZ", t.TickRateHz)
	t.SnapshotEveryTicks = envInt("TIS3D_SNAPSHOT_EVERY_TICKS", t.SnapshotEveryTicks)
	t.MaxCasingsPerController = envInt("TIS3D_MAX_CASINGS", t.MaxCasingsPerController)
	if v := strings.TrimSpace(os.Getenv("TIS3D_LOG_LEVEL")); v != "" {
		t.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("TIS3D_LOG_FORMAT")); v != "" {
		t.Log.Format = v
	}
}

// buildMirror returns nil unless TIS3D_S3_MIRROR is true.
func buildMirror(ctx context.Context, dataDir string, log *slog.Logger) (*mirror.Mirror, error) {
	if !envBool("TIS3D_S3_MIRROR", false) {
		return nil, nil
	}
	cfg := mirror.S3Config{
		Region:          strings.TrimSpace(os.Getenv("TIS3D_S3_REGION")),
		Bucket:          strings.TrimSpace(os.Getenv("TIS3D_S3_BUCKET")),
		Endpoint:        strings.TrimSpace(os.Getenv("TIS3D_S3_ENDPOINT")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("TIS3D_S3_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("TIS3D_S3_SECRET_ACCESS_KEY")),
		PathStyle:       envBool("TIS3D_S3_PATH_STYLE", false),
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("TIS3D_S3_MIRROR=true but TIS3D_S3_BUCKET is empty")
	}
	client, err := mirror.NewS3(ctx, cfg)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSpace(os.Getenv("TIS3D_S3_PREFIX"))
	m := mirror.New(client, dataDir, prefix, mirror.Options{
		Workers:       envInt("TIS3D_S3_UPLOAD_WORKERS", 2),
		QueueCapacity: envInt("TIS3D_S3_QUEUE", 256),
	}, log)
	log.Info("s3 mirror enabled", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint, "prefix", prefix)
	return m, nil
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

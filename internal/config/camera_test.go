package config

import "testing"

func TestParseCameraConfigValid(t *testing.T) {
	cfg, err := ParseCameraConfig("porch=0.0.0.0:5004:96:30:90000:8:/var/lib/camingest/porch.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ID != "porch" {
		t.Fatalf("expected ID porch, got %q", cfg.ID)
	}
	if cfg.BindAddr.Port != 5004 {
		t.Fatalf("expected port 5004, got %d", cfg.BindAddr.Port)
	}
	if cfg.PayloadType != 96 {
		t.Fatalf("expected payload type 96, got %d", cfg.PayloadType)
	}
	if cfg.FPS != 30 {
		t.Fatalf("expected fps 30, got %d", cfg.FPS)
	}
	if cfg.ClockRate != 90000 {
		t.Fatalf("expected clock rate 90000, got %d", cfg.ClockRate)
	}
	if cfg.MaxDelay != 8 {
		t.Fatalf("expected max delay 8, got %d", cfg.MaxDelay)
	}
	if cfg.SinkPath != "/var/lib/camingest/porch.mp4" {
		t.Fatalf("unexpected sink path %q", cfg.SinkPath)
	}
}

func TestParseCameraConfigMissingID(t *testing.T) {
	if _, err := ParseCameraConfig("0.0.0.0:5004:96:30:90000:8:out.mp4"); err == nil {
		t.Fatal("expected error for missing camera_id prefix")
	}
}

func TestParseCameraConfigWrongFieldCount(t *testing.T) {
	if _, err := ParseCameraConfig("porch=0.0.0.0:5004:96:30:90000"); err == nil {
		t.Fatal("expected error for too few fields")
	}
}

func TestParseCameraConfigBadPayloadType(t *testing.T) {
	if _, err := ParseCameraConfig("porch=0.0.0.0:5004:notanumber:30:90000:8:out.mp4"); err == nil {
		t.Fatal("expected error for non-numeric payload type")
	}
}

func TestParseCameraConfigZeroClockRate(t *testing.T) {
	if _, err := ParseCameraConfig("porch=0.0.0.0:5004:96:30:0:8:out.mp4"); err == nil {
		t.Fatal("expected error for zero clock rate")
	}
}

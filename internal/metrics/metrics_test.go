package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("manifest_get", 200, 100*time.Millisecond)
	RecordRequest("manifest_get", 200, 50*time.Millisecond)
	RecordRequest("blob_get", 404, 20*time.Millisecond)

	var m dto.Metric
	if err := RequestsTotal.WithLabelValues("manifest_get", "200").Write(&m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	if got := m.GetCounter().GetValue(); got < 2 {
		t.Errorf("manifest_get/200 counter = %v, want >= 2", got)
	}
}

func TestRecordBlobBytes(t *testing.T) {
	RecordBlobBytes("pull", 1024)
	RecordBlobBytes("pull", 1024)
	RecordBlobBytes("push", 512)

	var m dto.Metric
	if err := BlobBytes.WithLabelValues("pull").Write(&m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	if got := m.GetCounter().GetValue(); got < 2048 {
		t.Errorf("pull bytes counter = %v, want >= 2048", got)
	}
}

func TestRecordAuthOutcomes(t *testing.T) {
	RecordAuth("anonymous")
	RecordAuth("token")
	RecordAuth("denied")
	RecordTransportError("token_exchange")

	// No panics = success; values are scraped, not asserted here.
}

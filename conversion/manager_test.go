package conversion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"docconvert/config"
	"docconvert/models"
)

type fakeTransport struct {
	calls    []models.ConversionRequest
	response models.RemoteConversionResult
	err      error
}

func (f *fakeTransport) RequestConversion(_ context.Context, req models.ConversionRequest) (models.RemoteConversionResult, error) {
	f.calls = append(f.calls, req)
	return f.response, f.err
}

type fakeRegistry struct {
	updates   []models.Status
	stored    []string
	storeErr  error
	updateErr error
}

func (f *fakeRegistry) UpdateStatus(_ context.Context, rec *models.ConversionRecord) error {
	f.updates = append(f.updates, rec.Status)
	return f.updateErr
}

func (f *fakeRegistry) StoreDestinationFile(_ context.Context, rec *models.ConversionRecord, localPath string) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.stored = append(f.stored, string(data))
	rec.DestFileID = 99
	return nil
}

type fakeDownloader struct {
	urls []string
	body string
	err  error
}

func (f *fakeDownloader) Download(_ context.Context, url, dir string) (string, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(dir, "result")
	return path, os.WriteFile(path, []byte(f.body), 0644)
}

type fakeEvents struct {
	events []models.ConversionEvent
}

func (f *fakeEvents) Emit(_ context.Context, ev models.ConversionEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type harness struct {
	manager    *Manager
	transport  *fakeTransport
	registry   *fakeRegistry
	downloader *fakeDownloader
	events     *fakeEvents
	staging    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport:  &fakeTransport{},
		registry:   &fakeRegistry{},
		downloader: &fakeDownloader{body: "%PDF-1.4"},
		events:     &fakeEvents{},
		staging:    t.TempDir(),
	}
	cfg := &config.Config{
		DocServerInternalURL: "http://docserver",
		HostBaseURL:          "http://host",
		StagingDir:           h.staging,
	}
	m, err := NewManager(cfg, h.registry, h.downloader, h.events, WithTransport(h.transport))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	h.manager = m
	return h
}

func record(status models.Status) *models.ConversionRecord {
	return &models.ConversionRecord{
		ID:           5,
		SourceFileID: 11,
		SourceFile:   &models.SourceFile{ID: 11, ContentHash: "feedface", Filename: "essay.docx"},
		TargetFormat: "pdf",
		Status:       status,
	}
}

func (h *harness) assertSingleEvent(t *testing.T, rec *models.ConversionRecord, want models.Status) {
	t.Helper()
	if rec.Status != want {
		t.Errorf("status = %s, want %s", rec.Status, want)
	}
	if len(h.registry.updates) != 1 || h.registry.updates[0] != want {
		t.Errorf("expected one persisted %s, got %v", want, h.registry.updates)
	}
	if len(h.events.events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(h.events.events))
	}
	ev := h.events.events[0]
	if ev.Status != want || ev.ConversionID != rec.ID || ev.SourceFileID != rec.SourceFileID || ev.TargetFormat != "pdf" || ev.ID == "" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestNewManager_RequiresDocumentServerURL(t *testing.T) {
	_, err := NewManager(&config.Config{HostBaseURL: "http://host"}, &fakeRegistry{}, &fakeDownloader{}, &fakeEvents{})
	var cfgErr *models.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Setting != "DOCSERVER_INTERNAL_URL" {
		t.Fatalf("expected ConfigurationError for DOCSERVER_INTERNAL_URL, got %v", err)
	}
}

func TestManager_StartMovesToInProgress(t *testing.T) {
	h := newHarness(t)
	rec := record(models.StatusPending)

	if err := h.manager.Start(context.Background(), rec); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.assertSingleEvent(t, rec, models.StatusInProgress)
	if len(h.transport.calls) != 1 || h.transport.calls[0].Key != "docconvert_feedface" || !h.transport.calls[0].Async {
		t.Errorf("unexpected transport calls %+v", h.transport.calls)
	}
}

func TestManager_StartFailures(t *testing.T) {
	errs := map[string]error{
		"transport": &models.TransportError{Op: "document server request", Err: errors.New("connection refused")},
		"protocol":  &models.ProtocolError{Code: -4, Message: "download error"},
		"auth":      &models.AuthenticationError{Reason: models.ErrSecretMissing, ProtocolError: &models.ProtocolError{Code: -8}},
	}
	for name, remoteErr := range errs {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.transport.err = remoteErr
			rec := record(models.StatusPending)

			if err := h.manager.Start(context.Background(), rec); err != nil {
				t.Fatalf("expected error to be absorbed, got %v", err)
			}
			h.assertSingleEvent(t, rec, models.StatusFailed)
			if rec.StatusMessage == "" {
				t.Error("expected failure message on record")
			}
		})
	}
}

func TestManager_StartUnsupportedFormatFailsWithoutNetwork(t *testing.T) {
	h := newHarness(t)
	rec := record(models.StatusPending)
	rec.TargetFormat = "docx"

	if err := h.manager.Start(context.Background(), rec); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if rec.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if len(h.transport.calls) != 0 {
		t.Errorf("expected no remote call, got %d", len(h.transport.calls))
	}
}

func TestManager_StartRequiresPending(t *testing.T) {
	for _, status := range []models.Status{models.StatusInProgress, models.StatusComplete, models.StatusFailed} {
		h := newHarness(t)
		rec := record(status)

		err := h.manager.Start(context.Background(), rec)
		if !errors.Is(err, models.ErrNotPending) {
			t.Errorf("%s: expected ErrNotPending, got %v", status, err)
		}
		if rec.Status != status || len(h.transport.calls) != 0 || len(h.events.events) != 0 || len(h.registry.updates) != 0 {
			t.Errorf("%s: expected no side effects", status)
		}
	}
}

func TestManager_PollTerminalIsNoop(t *testing.T) {
	for _, status := range []models.Status{models.StatusComplete, models.StatusFailed} {
		h := newHarness(t)
		h.transport.response = models.RemoteConversionResult{Done: true, ResultURL: "http://x/f"}
		rec := record(status)

		if err := h.manager.Poll(context.Background(), rec); err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
		if rec.Status != status {
			t.Errorf("status changed from %s to %s", status, rec.Status)
		}
		if len(h.transport.calls)+len(h.downloader.urls)+len(h.events.events)+len(h.registry.updates) != 0 {
			t.Errorf("%s: expected no side effects", status)
		}
	}
}

func TestManager_PollStillConverting(t *testing.T) {
	h := newHarness(t)
	h.transport.response = models.RemoteConversionResult{Done: false, Percent: 30}
	rec := record(models.StatusInProgress)

	if err := h.manager.Poll(context.Background(), rec); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	h.assertSingleEvent(t, rec, models.StatusInProgress)
	if len(h.downloader.urls) != 0 {
		t.Error("expected no download while converting")
	}
}

func TestManager_PollReusesRequestKey(t *testing.T) {
	h := newHarness(t)
	rec := record(models.StatusPending)

	_ = h.manager.Start(context.Background(), rec)
	_ = h.manager.Poll(context.Background(), rec)
	_ = h.manager.Poll(context.Background(), rec)

	if len(h.transport.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(h.transport.calls))
	}
	for _, call := range h.transport.calls[1:] {
		if call != h.transport.calls[0] {
			t.Errorf("expected identical requests, got %+v vs %+v", call, h.transport.calls[0])
		}
	}
}

func TestManager_PollCompletes(t *testing.T) {
	h := newHarness(t)
	h.transport.response = models.RemoteConversionResult{Done: true, ResultURL: "http://x/f"}
	rec := record(models.StatusInProgress)

	if err := h.manager.Poll(context.Background(), rec); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	h.assertSingleEvent(t, rec, models.StatusComplete)
	if len(h.downloader.urls) != 1 || h.downloader.urls[0] != "http://x/f" {
		t.Errorf("unexpected downloads %v", h.downloader.urls)
	}
	if len(h.registry.stored) != 1 || h.registry.stored[0] != "%PDF-1.4" || rec.DestFileID != 99 {
		t.Errorf("unexpected stored files %v", h.registry.stored)
	}

	entries, _ := os.ReadDir(h.staging)
	if len(entries) != 0 {
		t.Errorf("expected staging to be cleaned, found %d entries", len(entries))
	}

	// A second poll on the settled record does nothing.
	if err := h.manager.Poll(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if len(h.transport.calls) != 1 || len(h.events.events) != 1 {
		t.Errorf("expected settled record to be left alone")
	}
}

func TestManager_PollFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{name: "download fails", setup: func(h *harness) {
			h.transport.response = models.RemoteConversionResult{Done: true, ResultURL: "http://x/f"}
			h.downloader.err = &models.TransportError{Op: "download result", Err: errors.New("reset")}
		}},
		{name: "store fails", setup: func(h *harness) {
			h.transport.response = models.RemoteConversionResult{Done: true, ResultURL: "http://x/f"}
			h.registry.storeErr = errors.New("s3 down")
		}},
		{name: "done without url", setup: func(h *harness) {
			h.transport.response = models.RemoteConversionResult{Done: true}
		}},
		{name: "protocol error", setup: func(h *harness) {
			h.transport.err = &models.ProtocolError{Code: -3, Message: "conversion error"}
		}},
		{name: "transport error", setup: func(h *harness) {
			h.transport.err = &models.TransportError{Op: "document server request", Err: errors.New("timeout")}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			tc.setup(h)
			rec := record(models.StatusInProgress)

			if err := h.manager.Poll(context.Background(), rec); err != nil {
				t.Fatalf("expected error to be absorbed, got %v", err)
			}
			h.assertSingleEvent(t, rec, models.StatusFailed)
			if len(h.registry.stored) != 0 {
				t.Errorf("expected nothing stored, got %v", h.registry.stored)
			}
		})
	}
}

func TestManager_PersistFailureStillEmitsOneEvent(t *testing.T) {
	tests := []struct {
		name  string
		start bool
		want  models.Status
		setup func(h *harness)
	}{
		{name: "start", start: true, want: models.StatusInProgress},
		{name: "poll converting", want: models.StatusInProgress, setup: func(h *harness) {
			h.transport.response = models.RemoteConversionResult{Percent: 50}
		}},
		{name: "poll completes", want: models.StatusComplete, setup: func(h *harness) {
			h.transport.response = models.RemoteConversionResult{Done: true, ResultURL: "http://x/f"}
		}},
		{name: "poll fails", want: models.StatusFailed, setup: func(h *harness) {
			h.transport.err = &models.ProtocolError{Code: -3}
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.registry.updateErr = errors.New("db down")
			if tc.setup != nil {
				tc.setup(h)
			}

			var err error
			if tc.start {
				rec := record(models.StatusPending)
				err = h.manager.Start(context.Background(), rec)
				h.assertSingleEvent(t, rec, tc.want)
			} else {
				rec := record(models.StatusInProgress)
				err = h.manager.Poll(context.Background(), rec)
				h.assertSingleEvent(t, rec, tc.want)
			}
			if !errors.Is(err, h.registry.updateErr) {
				t.Errorf("expected the persist error to be returned, got %v", err)
			}
		})
	}
}

func TestFailureKindAndRemediation(t *testing.T) {
	missing := &models.AuthenticationError{Reason: models.ErrSecretMissing, ProtocolError: &models.ProtocolError{Code: -8}}
	rejected := &models.AuthenticationError{Reason: models.ErrSecretRejected, ProtocolError: &models.ProtocolError{Code: -8}}

	if failureKind(missing) != "authentication" || failureKind(&models.ProtocolError{}) != "protocol" {
		t.Error("unexpected failure kinds")
	}
	if remediation(missing) == remediation(rejected) || remediation(missing) == "" {
		t.Errorf("expected distinct remediation, got %q and %q", remediation(missing), remediation(rejected))
	}
}

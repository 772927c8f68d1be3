package conversion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"docconvert/config"
	"docconvert/logger"
	"docconvert/models"
	"docconvert/services"

	"github.com/google/uuid"
)

type Transport interface {
	RequestConversion(ctx context.Context, req models.ConversionRequest) (models.RemoteConversionResult, error)
}

// Registry persists conversion records and their converted output.
type Registry interface {
	UpdateStatus(ctx context.Context, rec *models.ConversionRecord) error
	StoreDestinationFile(ctx context.Context, rec *models.ConversionRecord, localPath string) error
}

type Downloader interface {
	Download(ctx context.Context, url string, dir string) (string, error)
}

type EventSink interface {
	Emit(ctx context.Context, ev models.ConversionEvent) error
}

// Manager drives conversion records through
// pending -> in_progress -> complete|failed.
//
// A Manager may be shared between goroutines, but Start and Poll must never
// run concurrently for the same record.
type Manager struct {
	cfg        *config.Config
	formatter  *Formatter
	registry   Registry
	downloader Downloader
	events     EventSink
	now        func() time.Time

	transportOnce sync.Once
	transport     Transport
}

type Option func(*Manager)

// WithTransport replaces the document server client built on first use.
func WithTransport(t Transport) Option {
	return func(m *Manager) { m.transport = t }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(cfg *config.Config, registry Registry, downloader Downloader, events EventSink, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:        cfg,
		formatter:  NewFormatter(cfg),
		registry:   registry,
		downloader: downloader,
		events:     events,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) client() Transport {
	m.transportOnce.Do(func() {
		if m.transport == nil {
			m.transport = services.NewDocumentServerClient(m.cfg)
		}
	})
	return m.transport
}

func (m *Manager) Supports(from, to string) bool {
	return Supports(from, to)
}

// Start submits a pending conversion. Failures of the remote call mark the
// record failed; the returned error only reports that the new status could
// not be persisted, or ErrNotPending.
func (m *Manager) Start(ctx context.Context, rec *models.ConversionRecord) error {
	if rec.Status != models.StatusPending {
		return fmt.Errorf("start conversion %d in status %s: %w", rec.ID, rec.Status, models.ErrNotPending)
	}
	ctx = logger.WithConversion(ctx, rec.ID)

	req, err := m.request(rec)
	if err == nil {
		_, err = m.client().RequestConversion(ctx, req)
	}
	if err != nil {
		m.fail(ctx, rec, err)
	} else {
		rec.Status = models.StatusInProgress
		rec.StatusMessage = ""
	}
	return m.settle(ctx, rec)
}

// Poll re-sends the original request, which tells the document server to
// report on the conversion it already knows under the same key. Settled
// records are left alone without any side effect.
func (m *Manager) Poll(ctx context.Context, rec *models.ConversionRecord) error {
	if rec.Status.IsTerminal() {
		return nil
	}
	ctx = logger.WithConversion(ctx, rec.ID)

	if err := m.advance(ctx, rec); err != nil {
		m.fail(ctx, rec, err)
	}
	return m.settle(ctx, rec)
}

func (m *Manager) advance(ctx context.Context, rec *models.ConversionRecord) error {
	req, err := m.request(rec)
	if err != nil {
		return err
	}
	res, err := m.client().RequestConversion(ctx, req)
	if err != nil {
		return err
	}

	if !res.Done {
		rec.Status = models.StatusInProgress
		rec.StatusMessage = fmt.Sprintf("%d%%", res.Percent)
		return nil
	}
	if res.ResultURL == "" {
		return &models.ProtocolError{Message: "conversion finished without a result URL"}
	}

	if err := os.MkdirAll(m.cfg.StagingDir, 0755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	dir, err := os.MkdirTemp(m.cfg.StagingDir, fmt.Sprintf("conversion-%d-*", rec.ID))
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path, err := m.downloader.Download(ctx, res.ResultURL, dir)
	if err != nil {
		return err
	}
	// The registry marks the record complete together with the link; settle
	// then writes the same state again, which the registry accepts.
	if err := m.registry.StoreDestinationFile(ctx, rec, path); err != nil {
		return fmt.Errorf("store destination file: %w", err)
	}

	rec.Status = models.StatusComplete
	rec.StatusMessage = ""
	return nil
}

func (m *Manager) request(rec *models.ConversionRecord) (models.ConversionRequest, error) {
	if rec.SourceFile == nil {
		return models.ConversionRequest{}, &models.ConfigurationError{
			Setting: "source file",
			Reason:  fmt.Sprintf("conversion %d has no source file loaded", rec.ID),
		}
	}
	return m.formatter.Format(*rec.SourceFile, rec.TargetFormat)
}

func (m *Manager) fail(ctx context.Context, rec *models.ConversionRecord, err error) {
	rec.Status = models.StatusFailed
	rec.StatusMessage = err.Error()
	logger.WithContext(ctx).Error("conversion failed",
		"kind", failureKind(err),
		"hint", remediation(err),
		"error", err,
	)
}

// settle persists rec and emits exactly one event for this invocation.
func (m *Manager) settle(ctx context.Context, rec *models.ConversionRecord) error {
	persistErr := m.registry.UpdateStatus(ctx, rec)
	if persistErr != nil {
		logger.WithContext(ctx).Error("failed to persist conversion status", "status", rec.Status, "error", persistErr)
	}

	ev := models.ConversionEvent{
		ID:           uuid.NewString(),
		ConversionID: rec.ID,
		SourceFileID: rec.SourceFileID,
		TargetFormat: rec.TargetFormat,
		Status:       rec.Status,
		Message:      rec.StatusMessage,
		OccurredAt:   m.now(),
	}
	if err := m.events.Emit(ctx, ev); err != nil {
		logger.WithContext(ctx).Warn("failed to emit conversion event", "error", err)
	}

	if persistErr != nil {
		return fmt.Errorf("persist conversion %d: %w", rec.ID, persistErr)
	}
	return nil
}

func failureKind(err error) string {
	var (
		cfgErr       *models.ConfigurationError
		authErr      *models.AuthenticationError
		protoErr     *models.ProtocolError
		transportErr *models.TransportError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &authErr):
		return "authentication"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "storage"
	}
}

func remediation(err error) string {
	switch {
	case errors.Is(err, models.ErrSecretMissing):
		return "the document server expects signed requests; set DOCSERVER_SECRET"
	case errors.Is(err, models.ErrSecretRejected):
		return "DOCSERVER_SECRET does not match the document server's JWT secret"
	}
	return ""
}

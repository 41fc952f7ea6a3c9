package seed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/upb/audit-query/models"
	"github.com/upb/audit-query/repositories"
	"github.com/upb/audit-query/repositories/blob"
	"go.uber.org/zap"
)

// Dataset shape
var (
	Actions       = []string{"LOGIN", "LOGOUT", "UPDATE", "DELETE", "CREATE", "EXPORT"}
	ResourceTypes = []string{"ORDER", "USER", "PRODUCT", "INVOICE", "WAREHOUSE"}
	tagValues     = []string{"a", "b", "c", "d", "e"}
)

const (
	MaxActorID    = 2000
	maxResourceID = 5_000_000
	diffFields    = 20
	tagCount      = 10
	noteMinChars  = 256
	noteMaxChars  = 1024
)

// Config holds configuration for the Generator
type Config struct {
	Rows      int
	BatchSize int
	Seed      uint64
	Span      time.Duration // created_at is spread over [Now-Span, Now]
	Now       time.Time
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Rows:      50_000,
		BatchSize: 2000,
		Seed:      1337,
		Span:      30 * 24 * time.Hour,
	}
}

// Payload is the JSON document stored for each generated event
type Payload struct {
	Diff map[string][2]int `json:"diff"`
	Meta struct {
		IP string `json:"ip"`
	} `json:"meta"`
	Tags []string `json:"tags"`
	Note string   `json:"note"`
}

// Result summarizes a seeding run
type Result struct {
	Rows         int           `json:"rows"`
	Skipped      bool          `json:"skipped"`
	PayloadBytes int64         `json:"payload_bytes"`
	Duration     time.Duration `json:"duration"`
}

// Generator writes a deterministic dataset: payload documents to the blob
// file and metadata rows pointing at them to the index
type Generator struct {
	writer repositories.EventWriter
	logger *zap.Logger
	config Config
	rng    *rand.Rand
}

// NewGenerator creates a new Generator
func NewGenerator(writer repositories.EventWriter, logger *zap.Logger, config Config) *Generator {
	def := DefaultConfig()
	if config.BatchSize < 1 {
		config.BatchSize = def.BatchSize
	}
	if config.Span <= 0 {
		config.Span = def.Span
	}
	if config.Now.IsZero() {
		config.Now = time.Now()
	}
	return &Generator{
		writer: writer,
		logger: logger,
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, config.Seed)),
	}
}

// Run seeds the store unless it already holds rows. Each batch of payloads
// is flushed to disk before the rows referencing it are committed.
func (g *Generator) Run(ctx context.Context, payloadPath string) (*Result, error) {
	start := time.Now()

	existing, err := g.writer.Total(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count existing events: %w", err)
	}
	if existing > 0 {
		g.logger.Info("store already seeded, skipping", zap.Int("rows", existing))
		return &Result{Rows: existing, Skipped: true, Duration: time.Since(start)}, nil
	}

	w, err := blob.Create(payloadPath)
	if err != nil {
		return nil, err
	}
	closed := false
	defer func() {
		if !closed {
			_ = w.Close()
		}
	}()

	startOffset := w.Offset()
	batch := make([]*models.AuditEvent, 0, g.config.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if err := g.writer.InsertBatch(ctx, batch); err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for i := 0; i < g.config.Rows; i++ {
		event, payload := g.next()
		event.PayloadOffset, event.PayloadLen, err = w.Append(payload)
		if err != nil {
			return nil, err
		}
		batch = append(batch, event)

		if len(batch) >= g.config.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
			g.logger.Debug("seeded batch", zap.Int("rows", i+1))
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	closed = true
	if err := w.Close(); err != nil {
		return nil, err
	}

	res := &Result{
		Rows:         g.config.Rows,
		PayloadBytes: w.Offset() - startOffset,
		Duration:     time.Since(start),
	}
	g.logger.Info("seeded audit events",
		zap.Int("rows", res.Rows),
		zap.Int64("payload_bytes", res.PayloadBytes),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// next draws one metadata row and its payload
func (g *Generator) next() (*models.AuditEvent, *Payload) {
	r := g.rng
	spanSeconds := int64(g.config.Span / time.Second)
	resourceType := pick(r, ResourceTypes)

	event := &models.AuditEvent{
		CreatedAt:    g.config.Now.Unix() - r.Int64N(spanSeconds+1),
		ActorID:      1 + r.Int64N(MaxActorID),
		Action:       pick(r, Actions),
		ResourceType: resourceType,
		ResourceID:   fmt.Sprintf("%s-%d", resourceType, 1+r.IntN(maxResourceID)),
	}

	payload := &Payload{
		Diff: make(map[string][2]int, diffFields),
		Tags: make([]string, tagCount),
	}
	for j := 0; j < diffFields; j++ {
		payload.Diff[fmt.Sprintf("field_%d", j)] = [2]int{r.IntN(1001), r.IntN(1001)}
	}
	payload.Meta.IP = fmt.Sprintf("10.%d.%d.%d", r.IntN(256), r.IntN(256), r.IntN(256))
	for j := range payload.Tags {
		payload.Tags[j] = pick(r, tagValues)
	}
	payload.Note = strings.Repeat("x", noteMinChars+r.IntN(noteMaxChars-noteMinChars+1))

	return event, payload
}

func pick(r *rand.Rand, values []string) string {
	return values[r.IntN(len(values))]
}

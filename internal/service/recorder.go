package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-relay-bot/internal/backend"
	"ai-relay-bot/internal/storage"
)

// Gateway is the write side of the backend persistence API
type Gateway interface {
	CreateCompletion(ctx context.Context, record backend.CompletionRecord) error
	CreateRecipe(ctx context.Context, record backend.RecipeRecord) error
	SaveImage(ctx context.Context, record backend.ImageRecord) error
}

// DeadLetterSink keeps writes the backend did not accept
type DeadLetterSink interface {
	SaveFailedWrite(ctx context.Context, write *storage.FailedWrite) error
}

// Recorder persists interaction results in the background. A failed write is
// logged and kept in the dead letter sink; it never reaches the user.
type Recorder struct {
	gateway     Gateway
	deadLetters DeadLetterSink
	timeout     time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// errRecorderClosed marks writes that arrived after Shutdown began
var errRecorderClosed = errors.New("recorder is shut down")

// NewRecorder creates a new Recorder. deadLetters may be nil.
func NewRecorder(gateway Gateway, deadLetters DeadLetterSink, timeout time.Duration, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		gateway:     gateway,
		deadLetters: deadLetters,
		timeout:     timeout,
		logger:      logger,
	}
}

// RecordCompletion stores a prompt/answer pair
func (r *Recorder) RecordCompletion(ctx context.Context, logger *slog.Logger, record backend.CompletionRecord) {
	r.dispatch(ctx, logger, backend.ResourceCompletion, record.DiscordUser, record, func(ctx context.Context) error {
		return r.gateway.CreateCompletion(ctx, record)
	})
}

// RecordRecipe stores a generated recipe
func (r *Recorder) RecordRecipe(ctx context.Context, logger *slog.Logger, record backend.RecipeRecord) {
	r.dispatch(ctx, logger, backend.ResourceRecipes, record.DiscordUser, record, func(ctx context.Context) error {
		return r.gateway.CreateRecipe(ctx, record)
	})
}

// RecordImage stores a generated image URL
func (r *Recorder) RecordImage(ctx context.Context, logger *slog.Logger, record backend.ImageRecord) {
	r.dispatch(ctx, logger, backend.ResourceImages, record.DiscordUser, record, func(ctx context.Context) error {
		return r.gateway.SaveImage(ctx, record)
	})
}

// Wait blocks until every dispatched write has finished
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Shutdown stops accepting background writes and waits for the pending ones.
// A write dispatched afterwards goes straight to the dead letter sink.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Recorder) dispatch(ctx context.Context, logger *slog.Logger, resource, discordUser string, payload any, write func(context.Context) error) {
	if logger == nil {
		logger = r.logger
	}

	// The interaction context ends once the reply is delivered
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		logger.Error("Failed to persist record",
			"resource", resource,
			"discord_user", discordUser,
			"error", &PersistenceError{Resource: resource, Err: errRecorderClosed})
		r.saveDeadLetter(ctx, logger, resource, discordUser, payload, errRecorderClosed)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		writeCtx, cancel := r.withTimeout(ctx)
		defer cancel()

		err := write(writeCtx)
		if err == nil {
			logger.Debug("Record persisted", "resource", resource)
			return
		}

		persistErr := &PersistenceError{Resource: resource, Err: err}
		logger.Error("Failed to persist record",
			"resource", resource,
			"discord_user", discordUser,
			"error", persistErr)

		r.saveDeadLetter(ctx, logger, resource, discordUser, payload, err)
	}()
}

func (r *Recorder) saveDeadLetter(ctx context.Context, logger *slog.Logger, resource, discordUser string, payload any, cause error) {
	if r.deadLetters == nil {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Failed to encode dead letter payload", "resource", resource, "error", err)
		return
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	write := &storage.FailedWrite{
		ID:          uuid.NewString(),
		Resource:    resource,
		DiscordUser: discordUser,
		Payload:     string(body),
		Error:       cause.Error(),
		CreatedAt:   time.Now().Unix(),
	}
	if err := r.deadLetters.SaveFailedWrite(ctx, write); err != nil {
		logger.Error("Failed to store dead letter",
			"resource", resource,
			"dead_letter_id", write.ID,
			"error", err)
		return
	}

	logger.Info("Failed write stored for audit",
		"resource", resource,
		"dead_letter_id", write.ID)
}

func (r *Recorder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/amplify-platform/authd/internal/logging"
	"github.com/amplify-platform/authd/internal/models"
)

const (
	commandQueueKey   = "auth:commands"
	responseKeyPrefix = "response:"

	// A rendezvous slot outlives the submit budget but not by much; a
	// result nobody read in 30 seconds will never be read.
	responseTTL = 30 * time.Second

	// Short blocking pop so shutdown is observed promptly.
	queuePopTimeout    = 1 * time.Second
	submitPollInterval = 100 * time.Millisecond
)

// ErrCommandTimeout means the rendezvous slot was never populated within the
// wait budget. The underlying write may or may not have completed, so it is
// surfaced distinctly from a handler-reported failure.
var ErrCommandTimeout = errors.New("command processing timeout")

// CommandProcessor is the single writer. Every mutation of the durable
// store, cache, and revocation set funnels through its one goroutine, which
// consumes the command queue serially. That discipline, not locking, is what
// prevents write-write races.
type CommandProcessor struct {
	store   *TokenStore
	cache   *TokenCache
	revoked *RevocationSet
	redis   RedisClient
	logger  *logging.Logger
	wait    time.Duration

	running atomic.Bool
	quit    chan struct{}
	done    chan struct{}
}

func NewCommandProcessor(store *TokenStore, cache *TokenCache, revoked *RevocationSet, redis RedisClient, logger *logging.Logger, wait time.Duration) *CommandProcessor {
	if logger == nil {
		logger = logging.Default
	}
	return &CommandProcessor{
		store:   store,
		cache:   cache,
		revoked: revoked,
		redis:   redis,
		logger:  logger.Component("command_processor"),
		wait:    wait,
	}
}

// Start launches the processing goroutine. Safe to call once per processor.
func (p *CommandProcessor) Start() {
	if !p.running.CompareAndSwap(false, true) {
		p.logger.Warn("Command processor already running")
		return
	}

	p.quit = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop()
	p.logger.Info("Command processor started")
}

// Stop signals the loop and waits for the in-flight command to drain.
func (p *CommandProcessor) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.quit)
	<-p.done
	p.logger.Info("Command processor stopped")
}

// Running reports whether the processing loop is live. Used by health checks.
func (p *CommandProcessor) Running() bool {
	return p.running.Load()
}

func (p *CommandProcessor) loop() {
	defer close(p.done)

	ctx := context.Background()
	for {
		select {
		case <-p.quit:
			return
		default:
		}

		raw, ok, err := p.redis.BLPop(ctx, queuePopTimeout, commandQueueKey)
		if err != nil {
			p.logger.Error("Error popping command queue", map[string]interface{}{"error": err.Error()})
			// One bad pop must not spin the loop hot or kill it.
			select {
			case <-p.quit:
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !ok {
			continue
		}

		var cmd models.Command
		if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
			p.logger.Error("Dropping malformed command", map[string]interface{}{"error": err.Error()})
			continue
		}

		p.processCommand(ctx, cmd)
	}
}

// processCommand runs one handler and always publishes some result to the
// rendezvous slot, success or failure, so submitters never wait in vain.
func (p *CommandProcessor) processCommand(ctx context.Context, cmd models.Command) {
	p.logger.Info("Processing command", map[string]interface{}{"type": string(cmd.Type)})

	var result any
	var err error

	switch cmd.Type {
	case models.CommandCreateToken:
		result, err = p.createToken(ctx, cmd.Data)
	case models.CommandRevokeToken:
		result, err = p.revokeToken(ctx, cmd.Data)
	case models.CommandExtendToken:
		result, err = p.extendToken(ctx, cmd.Data)
	default:
		result = models.CommandError{
			Error:  models.ErrCodeUnknownCommand,
			Detail: fmt.Sprintf("unknown command type: %s", cmd.Type),
		}
	}

	if err != nil {
		p.logger.Error("Command failed", map[string]interface{}{
			"type":  string(cmd.Type),
			"error": err.Error(),
		})
		result = models.CommandError{Error: models.ErrCodeCommandFailed, Detail: err.Error()}
	}

	p.publish(ctx, cmd.ResponseKey, result)
}

func (p *CommandProcessor) publish(ctx context.Context, responseKey string, result any) {
	if responseKey == "" {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		p.logger.Error("Error marshaling command result", map[string]interface{}{"error": err.Error()})
		payload = []byte(`{"error":"command_failed","detail":"unserializable result"}`)
	}

	if err := p.redis.SetEx(ctx, responseKey, string(payload), responseTTL); err != nil {
		p.logger.Error("Error publishing command result", map[string]interface{}{
			"response_key": responseKey,
			"error":        err.Error(),
		})
	}
}

func (p *CommandProcessor) createToken(ctx context.Context, raw json.RawMessage) (any, error) {
	var data models.CreateTokenData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding create_token data: %w", err)
	}

	secret, tokenHash, err := GenerateSecret()
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if data.TTLDays != nil {
		t := time.Now().Add(time.Duration(*data.TTLDays) * 24 * time.Hour)
		expiresAt = &t
	}

	token, err := p.store.Create(ctx, models.CreateTokenParams{
		TokenHash: tokenHash,
		Name:      data.Name,
		Scopes:    data.Scopes,
		ExpiresAt: expiresAt,
		Metadata:  data.Metadata,
	})
	if err != nil {
		return nil, err
	}

	// Write-through. The cache is rebuildable, so a failure here costs a
	// later miss, not correctness.
	if err := p.cache.Put(ctx, tokenHash, ProjectionOf(token)); err != nil {
		p.logger.Warn("Cache write after create failed", map[string]interface{}{
			"token_id": token.TokenID.String(),
			"error":    err.Error(),
		})
	}

	p.logger.Info("Created token", map[string]interface{}{
		"token_id": token.TokenID.String(),
		"name":     token.Name,
	})

	return models.CreateTokenResult{
		Token:     secret,
		TokenID:   token.TokenID.String(),
		Name:      token.Name,
		Scopes:    token.Scopes,
		CreatedAt: token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

func (p *CommandProcessor) revokeToken(ctx context.Context, raw json.RawMessage) (any, error) {
	var data models.RevokeTokenData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding revoke_token data: %w", err)
	}
	tokenID, err := uuid.Parse(data.TokenID)
	if err != nil {
		return nil, fmt.Errorf("parsing token_id: %w", err)
	}

	tokenHash, revokedAt, err := p.store.Revoke(ctx, tokenID)
	if errors.Is(err, ErrTokenNotFound) {
		return models.CommandError{
			Error:  models.ErrCodeTokenNotFound,
			Detail: fmt.Sprintf("Token %s not found", data.TokenID),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	// Order matters: durable update first, then drop the stale projection,
	// then append to the revocation set the read path checks first.
	if err := p.cache.Delete(ctx, tokenHash); err != nil {
		p.logger.Warn("Cache invalidation after revoke failed", map[string]interface{}{
			"token_id": data.TokenID,
			"error":    err.Error(),
		})
	}
	if err := p.revoked.Add(ctx, tokenHash); err != nil {
		// The revocation set is the correctness anchor; failing to append
		// must fail the command so the caller retries.
		return nil, err
	}

	p.logger.Info("Revoked token", map[string]interface{}{"token_id": data.TokenID})

	return models.RevokeTokenResult{
		Success:   true,
		TokenID:   data.TokenID,
		RevokedAt: revokedAt,
	}, nil
}

func (p *CommandProcessor) extendToken(ctx context.Context, raw json.RawMessage) (any, error) {
	var data models.ExtendTokenData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding extend_token data: %w", err)
	}
	tokenID, err := uuid.Parse(data.TokenID)
	if err != nil {
		return nil, fmt.Errorf("parsing token_id: %w", err)
	}

	tokenHash, expiresAt, err := p.store.Extend(ctx, tokenID, data.ExtendDays)
	if errors.Is(err, ErrTokenNotFound) {
		return models.CommandError{
			Error:  models.ErrCodeTokenNotFound,
			Detail: fmt.Sprintf("Token %s not found", data.TokenID),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	// Drop the projection so the next validation reads the new expiry.
	if err := p.cache.Delete(ctx, tokenHash); err != nil {
		p.logger.Warn("Cache invalidation after extend failed", map[string]interface{}{
			"token_id": data.TokenID,
			"error":    err.Error(),
		})
	}

	p.logger.Info("Extended token", map[string]interface{}{
		"token_id":   data.TokenID,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	return models.ExtendTokenResult{
		Success:   true,
		TokenID:   data.TokenID,
		ExpiresAt: expiresAt,
	}, nil
}

// SubmitCommand enqueues a write command and polls its rendezvous slot until
// the result appears or the wait budget runs out. A timeout does not cancel
// the in-flight write; revoke and extend are idempotent on retry, create is
// not and will mint a distinct token.
func (p *CommandProcessor) SubmitCommand(ctx context.Context, cmdType models.CommandType, data any) (json.RawMessage, error) {
	rawData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding command data: %w", err)
	}

	responseKey := responseKeyPrefix + uuid.NewString()
	payload, err := json.Marshal(models.Command{
		Type:        cmdType,
		Data:        rawData,
		ResponseKey: responseKey,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding command: %w", err)
	}

	if err := p.redis.RPush(ctx, commandQueueKey, string(payload)); err != nil {
		return nil, fmt.Errorf("enqueuing command: %w", err)
	}

	deadline := time.Now().Add(p.wait)
	for {
		value, ok, err := p.redis.Get(ctx, responseKey)
		if err != nil {
			return nil, fmt.Errorf("polling command result: %w", err)
		}
		if ok {
			return json.RawMessage(value), nil
		}
		if time.Now().After(deadline) {
			return nil, ErrCommandTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(submitPollInterval):
		}
	}
}

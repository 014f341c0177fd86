package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// EmissionRequest is the payload handed to the external invoicing API.
type EmissionRequest struct {
	IdempotencyToken string
	Phone            string
	Slots            Slots
}

// EmissionResponse is the external API's answer to an emission call.
type EmissionResponse struct {
	DocumentNumber string
	PDFURL         string
}

// EmitError classifies a failed emission call so the retry policy can decide
// whether another attempt makes sense.
type EmitError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("emission %s: %s", e.Kind, e.Message)
}

// ErrTokenUsed is returned by an Emitter when the invoicing API reports the
// idempotency token as already consumed: the document exists, this call is a
// replay of an earlier success.
var ErrTokenUsed = errors.New("idempotency token already used")

// Emitter is the narrow interface to the external invoicing API.
type Emitter interface {
	Emit(ctx context.Context, req EmissionRequest) (EmissionResponse, error)
}

// EmissionRecorder persists a successful emission to the history log.
// Recording is best-effort: a recorder failure never fails the emission.
type EmissionRecorder interface {
	RecordEmission(ctx context.Context, rec EmissionRecord) error
}

// RetryPolicy bounds the coordinator's own retries around the external call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Sleep is injectable for tests; nil means time.Sleep.
	Sleep func(time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

func (p RetryPolicy) sleep(attempt int) {
	d := p.BaseDelay << attempt // exponential backoff
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// IdempotencyToken derives a stable token from the normalized slot set: the
// same confirmed data always maps to the same token, so a duplicated "sí" or
// a transport-level retry resolves to the same server-side operation.
func IdempotencyToken(slots Slots) string {
	var b strings.Builder
	b.WriteString(string(slots.DocumentType))
	b.WriteByte('|')
	b.WriteString(string(slots.IdentityType))
	b.WriteByte('|')
	b.WriteString(slots.IdentityNumber)
	b.WriteByte('|')
	b.WriteString(slots.CurrencyOrDefault())
	for _, li := range slots.LineItems {
		fmt.Fprintf(&b, "|%d;%s;%s", li.Quantity, strings.ToLower(li.Description), li.UnitPrice.StringFixed(2))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// EmissionCoordinator owns the confirm → emit → respond protocol: at most one
// real emission per distinct idempotency token within its validity window.
type EmissionCoordinator struct {
	emitter  Emitter
	recorder EmissionRecorder
	policy   RetryPolicy

	// completed caches token → result for the validity window so that an
	// identical confirmation after success replays the document number
	// instead of raising a second document.
	mu        sync.Mutex
	completed map[string]completedEmission
	window    time.Duration
	now       func() time.Time
}

type completedEmission struct {
	result EmissionResult
	at     time.Time
}

// NewEmissionCoordinator wires the coordinator. recorder may be nil.
func NewEmissionCoordinator(emitter Emitter, recorder EmissionRecorder, policy RetryPolicy) *EmissionCoordinator {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &EmissionCoordinator{
		emitter:   emitter,
		recorder:  recorder,
		policy:    policy,
		completed: make(map[string]completedEmission),
		window:    DefaultSessionTTL,
		now:       time.Now,
	}
}

// Confirm executes the emission for a session sitting in
// AWAITING_CONFIRMATION with complete slots. On success the session returns
// to IDLE and the token is retired into the replay cache; on terminal failure
// the session stays in AWAITING_CONFIRMATION so the user can retry without
// re-entering data.
func (c *EmissionCoordinator) Confirm(ctx context.Context, session *Session) EmissionResult {
	if session.State != StateAwaitingConfirmation || !session.Slots.Complete() {
		return EmissionResult{Status: EmissionFailed, ErrorKind: ErrorValidation}
	}

	if session.IdempotencyToken == "" {
		session.IdempotencyToken = IdempotencyToken(session.Slots)
	}
	token := session.IdempotencyToken

	// Replay of an already-completed confirmation: no-op success, same number.
	if prior, ok := c.lookupCompleted(token); ok {
		prior.Status = EmissionDuplicate
		session.ResetEmission()
		return prior
	}

	session.State = StateEmitting
	result := c.emitWithRetry(ctx, EmissionRequest{
		IdempotencyToken: token,
		Phone:            session.Phone,
		Slots:            session.Slots,
	})

	if result.Status == EmissionFailed {
		session.State = StateAwaitingConfirmation
		return result
	}

	c.retire(token, result)
	if c.recorder != nil {
		rec := EmissionRecord{
			Phone:          session.Phone,
			DocumentType:   session.Slots.DocumentType,
			DocumentNumber: result.DocumentNumber,
			ClientID:       session.Slots.IdentityNumber,
			Total:          session.Slots.Total(),
			Currency:       session.Slots.CurrencyOrDefault(),
			PDFURL:         result.PDFURL,
			ItemCount:      len(session.Slots.LineItems),
			EmittedAt:      c.now(),
		}
		if err := c.recorder.RecordEmission(ctx, rec); err != nil {
			// History is advisory; the document was emitted either way.
			log.Printf("emission %s: history record failed: %v", result.DocumentNumber, err)
		}
	}
	session.ResetEmission()
	return result
}

func (c *EmissionCoordinator) emitWithRetry(ctx context.Context, req EmissionRequest) EmissionResult {
	var lastKind ErrorKind = ErrorNetwork
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.policy.sleep(attempt - 1)
		}

		resp, err := c.emitter.Emit(ctx, req)
		if err == nil {
			return EmissionResult{
				Status:         EmissionSuccess,
				DocumentNumber: resp.DocumentNumber,
				PDFURL:         resp.PDFURL,
			}
		}

		// The server saw the first attempt even though we did not see the
		// response: same token, same document, not an error.
		if errors.Is(err, ErrTokenUsed) {
			return EmissionResult{
				Status:         EmissionDuplicate,
				DocumentNumber: resp.DocumentNumber,
				PDFURL:         resp.PDFURL,
			}
		}

		var ee *EmitError
		if errors.As(err, &ee) {
			lastKind = ee.Kind
			if !ee.Retryable {
				break
			}
			continue
		}
		if ctx.Err() != nil {
			lastKind = ErrorNetwork
			break
		}
		lastKind = ErrorNetwork
	}
	return EmissionResult{Status: EmissionFailed, ErrorKind: lastKind}
}

func (c *EmissionCoordinator) lookupCompleted(token string) (EmissionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ce, ok := c.completed[token]
	if !ok {
		return EmissionResult{}, false
	}
	if c.now().Sub(ce.at) > c.window {
		delete(c.completed, token)
		return EmissionResult{}, false
	}
	return ce.result, true
}

func (c *EmissionCoordinator) retire(token string, result EmissionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Opportunistic purge keeps the cache bounded without a sweeper.
	cutoff := c.now().Add(-c.window)
	for t, ce := range c.completed {
		if ce.at.Before(cutoff) {
			delete(c.completed, t)
		}
	}
	c.completed[token] = completedEmission{result: result, at: c.now()}
}

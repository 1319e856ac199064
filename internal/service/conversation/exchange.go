package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat/internal/models"
	"docchat/internal/provider"

	"github.com/cenkalti/backoff/v4"
)

const cancelRunTimeout = 10 * time.Second

// ReplyHooks lets callers observe progress of SendAndAwaitReply. Either field may be nil.
type ReplyHooks struct {
	// UserEntry fires once the question is accepted by the provider and stored.
	UserEntry func(models.TranscriptEntry)
	// Status fires whenever the observed run status changes.
	Status func(models.RunStatus)
}

var errRunPending = errors.New("run still pending")

// SendAndAwaitReply posts text on the session thread, runs the assistant and waits for the
// reply. The user entry is appended as soon as the message is posted; the assistant entry
// only when a reply is returned.
func (s *Service) SendAndAwaitReply(ctx context.Context, sessionID, text string, hooks *ReplyHooks) (*models.TranscriptEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("message content is required")
	}
	if hooks == nil {
		hooks = &ReplyHooks{}
	}

	state, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Assistant == nil {
		return nil, ErrAssistantNotReady
	}
	if state.Thread == nil {
		return nil, ErrThreadNotReady
	}
	threadID, assistantID := state.Thread.ID, state.Assistant.ID

	if _, err := s.provider.PostMessage(ctx, threadID, text); err != nil {
		return nil, err
	}
	userEntry := s.newEntry(models.RoleUser, text)
	state.Transcript = append(state.Transcript, userEntry)
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	if hooks.UserEntry != nil {
		hooks.UserEntry(userEntry)
	}

	run, err := s.provider.StartRun(ctx, threadID, assistantID)
	if err != nil {
		return nil, err
	}
	run, err = s.awaitRun(ctx, sessionID, threadID, run, hooks.Status)
	if err != nil {
		return nil, err
	}

	l := s.log(sessionID)
	switch run.Status {
	case models.RunCompleted:
	case models.RunRequiresAction:
		// nothing here can satisfy tool calls; free the thread for the next question
		s.cancelRun(ctx, sessionID, threadID, run.ID)
		return nil, &RunError{RunID: run.ID, Status: run.Status, Detail: run.LastError}
	default:
		l.Warn().Str("run_id", run.ID).Str("status", string(run.Status)).Str("last_error", run.LastError).Msg("run did not complete")
		return nil, &RunError{RunID: run.ID, Status: run.Status, Detail: run.LastError}
	}

	msgs, err := s.provider.ListMessages(ctx, threadID, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: thread has no messages", ErrUnexpectedRole)
	}
	if msgs[0].Role != models.RoleAssistant {
		return nil, fmt.Errorf("%w: got %s", ErrUnexpectedRole, msgs[0].Role)
	}

	reply := s.newEntry(models.RoleAssistant, msgs[0].Content)
	state.Transcript = append(state.Transcript, reply)
	if err := s.save(ctx, state); err != nil {
		return nil, err
	}
	l.Debug().Str("run_id", run.ID).Int("reply_len", len(reply.Content)).Msg("reply received")
	return &reply, nil
}

// awaitRun polls until the run reaches a terminal status. Exceeding the poll budget
// yields ErrRunTimeout; in that case and on caller cancellation the run is cancelled.
func (s *Service) awaitRun(ctx context.Context, sessionID, threadID string, run provider.Run, onStatus func(models.RunStatus)) (provider.Run, error) {
	if onStatus != nil {
		onStatus(run.Status)
	}
	if run.Status.Terminal() {
		return run, nil
	}

	pollCtx := ctx
	if s.opts.Poll.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, s.opts.Poll.Timeout)
		defer cancel()
	}
	var b backoff.BackOff = backoff.NewConstantBackOff(s.opts.Poll.Interval)
	if s.opts.Poll.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(s.opts.Poll.MaxAttempts-1))
	}
	b = backoff.WithContext(b, pollCtx)

	current := run
	err := backoff.Retry(func() error {
		next, err := s.provider.RunStatus(pollCtx, threadID, run.ID)
		if err != nil {
			if pollCtx.Err() != nil {
				return pollCtx.Err()
			}
			return backoff.Permanent(err)
		}
		if next.Status != current.Status && onStatus != nil {
			onStatus(next.Status)
		}
		current = next
		if current.Status.Terminal() {
			return nil
		}
		return errRunPending
	}, b)

	switch {
	case err == nil:
		return current, nil
	case ctx.Err() != nil:
		s.cancelRun(ctx, sessionID, threadID, run.ID)
		return current, ctx.Err()
	case errors.Is(err, errRunPending) || pollCtx.Err() != nil:
		s.cancelRun(ctx, sessionID, threadID, run.ID)
		return current, fmt.Errorf("%w: run %s still %s", ErrRunTimeout, run.ID, current.Status)
	default:
		return current, err
	}
}

// cancelRun is best effort and survives cancellation of ctx.
func (s *Service) cancelRun(ctx context.Context, sessionID, threadID, runID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelRunTimeout)
	defer cancel()
	if err := s.provider.CancelRun(ctx, threadID, runID); err != nil {
		l := s.log(sessionID)
		l.Warn().Err(err).Str("thread_id", threadID).Str("run_id", runID).Msg("cancel run failed")
	}
}

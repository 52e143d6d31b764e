package lights

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/Aaliyah097/bochat/cmd/internal/metrics"
)

// DefaultAwardTTL bounds how long the award gate remembers a message id.
const DefaultAwardTTL = 10 * time.Minute

// Result is the outcome of scoring one message.
type Result struct {
	Awarded int
	Total   int
	// Duplicate is set when another relay already scored this message.
	Duplicate bool
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Ledger Ledger
	// Gate is optional; without it every Score call credits.
	Gate     AwardGate
	AwardTTL time.Duration
	// Rand defaults to the math/rand/v2 global source.
	Rand   Rand
	Logger *slog.Logger
}

// Engine turns scoring contexts into ledger credits.
type Engine struct {
	ledger   Ledger
	gate     AwardGate
	awardTTL time.Duration
	rand     Rand
	log      *slog.Logger
}

// NewEngine constructs an Engine. Ledger is required.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Ledger == nil {
		return nil, errors.New("lights: nil ledger")
	}
	if opts.AwardTTL <= 0 {
		opts.AwardTTL = DefaultAwardTTL
	}
	if opts.Rand == nil {
		opts.Rand = globalRand{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return &Engine{
		ledger:   opts.Ledger,
		gate:     opts.Gate,
		awardTTL: opts.AwardTTL,
		rand:     opts.Rand,
		log:      opts.Logger,
	}, nil
}

// Score evaluates sc and credits the award to the message author.
//
// A zero award still reconciles the row so the returned total reflects the
// ledger's latest snapshot.
func (e *Engine) Score(ctx context.Context, sc ScoringContext) (Result, error) {
	msg := sc.Message

	if e.gate != nil && msg.ID > 0 {
		ok, err := e.gate.Acquire(ctx, msg.ID, e.awardTTL)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{Duplicate: true}, nil
		}
	}

	awarded := Evaluate(sc, e.rand)

	var (
		b   Balance
		err error
	)
	if awarded == 0 {
		b, err = e.ledger.Reconcile(ctx, msg.UserID, msg.ChatID)
	} else {
		b, err = e.ledger.Credit(ctx, msg.UserID, msg.ChatID, awarded)
	}
	if err != nil {
		e.release(ctx, msg.ID)
		return Result{}, err
	}

	if awarded > 0 {
		metrics.ObserveAward(awarded)
		e.log.Debug("lights.award",
			"chat_id", msg.ChatID,
			"user_id", msg.UserID,
			"message_id", msg.ID,
			"awarded", awarded,
			"total", b.Amount,
			"tier", sc.Tier.String(),
			"both_online", sc.BothOnline,
		)
	}
	return Result{Awarded: awarded, Total: b.Amount}, nil
}

// release reopens the gate after a failed ledger write so the next relay of the
// message can credit it.
func (e *Engine) release(ctx context.Context, messageID int64) {
	if e.gate == nil || messageID <= 0 {
		return
	}
	if err := e.gate.Release(context.WithoutCancel(ctx), messageID); err != nil {
		e.log.Warn("lights.gate.release.fail", "message_id", messageID, "err", err)
	}
}

// Balance returns the current balance of userID in chatID.
func (e *Engine) Balance(ctx context.Context, userID, chatID int64) (int, error) {
	return e.ledger.BalanceOf(ctx, userID, chatID)
}

// Withdraw spends amount from the balance. amount must be positive.
func (e *Engine) Withdraw(ctx context.Context, userID, chatID int64, amount int) (Balance, error) {
	if amount <= 0 {
		return Balance{}, invalidAmount("withdraw", "amount must be positive")
	}
	b, err := e.ledger.Debit(ctx, userID, chatID, amount)
	if err != nil {
		return b, err
	}
	e.log.Info("lights.withdrawn",
		"chat_id", chatID,
		"user_id", userID,
		"amount", amount,
		"total", b.Amount,
	)
	return b, nil
}

// Package mediator turns free-text oracle answers into moves. One call runs a
// bounded retry loop: build a prompt, ask the oracle, parse the answer,
// validate it, and feed rejections back into the next prompt. When attempts
// run out it falls back to the heuristic ranker, so a move always comes back
// for positions that have one.
package mediator

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Larswa/chess-combat/internal/obslog"
	"github.com/Larswa/chess-combat/internal/oracle"
	"github.com/Larswa/chess-combat/internal/parser"
	"github.com/Larswa/chess-combat/internal/prompt"
	"github.com/Larswa/chess-combat/internal/ranker"
	"github.com/Larswa/chess-combat/internal/rules"
	"github.com/Larswa/chess-combat/internal/session"
)

// ErrNoLegalMoves means a move was requested for a position without legal
// moves, usually one that is already terminal.
var ErrNoLegalMoves = errors.New("no legal moves in position")

// Outcome classifies one attempt.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeIllegal     Outcome = "illegal"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeUnparseable Outcome = "unparseable"
	OutcomeOracleError Outcome = "oracle_error"
)

// Attempt records one pass through the loop.
type Attempt struct {
	Index   int     `json:"index"`
	Text    string  `json:"text"`
	FEN     string  `json:"fen"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Request describes what to mediate.
type Request struct {
	Position rules.Position
	// History is the game so far; it feeds the ranker and the prompt.
	History       []rules.Ply
	SessionKey    *session.Key
	RulesEnforced bool
	// Oracle overrides the mediator's default oracle for this call.
	Oracle oracle.Oracle
}

// Result is what Mediate settled on.
type Result struct {
	Move     string
	Attempts []Attempt
	// Fallback is set when the move did not come from an accepted attempt.
	Fallback bool
	// Unvalidated is set when rules are off and the move was never checked.
	Unvalidated bool
	// Raw is the oracle text behind the move, empty for ranker fallbacks.
	Raw string
	// OracleErrors aggregates provider failures seen during the call.
	OracleErrors error
}

// Rejections returns the non-accepted attempts.
func (r Result) Rejections() []Attempt {
	var out []Attempt
	for _, a := range r.Attempts {
		if a.Outcome != OutcomeAccepted {
			out = append(out, a)
		}
	}
	return out
}

// Config tunes the loop.
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	MaxTokens      int
	Temperature    float64
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 15 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 150
	}
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	return c
}

// Mediator runs mediation calls. It is safe for concurrent use; calls share
// nothing but the session store.
type Mediator struct {
	cfg      Config
	oracle   oracle.Oracle
	builder  *prompt.Builder
	ranker   *ranker.Ranker
	sessions session.Store
}

// New wires a Mediator. sessions may be nil to disable session effects.
func New(cfg Config, o oracle.Oracle, b *prompt.Builder, r *ranker.Ranker, sessions session.Store) *Mediator {
	return &Mediator{cfg: cfg.withDefaults(), oracle: o, builder: b, ranker: r, sessions: sessions}
}

// MaxAttempts is the configured attempt budget.
func (m *Mediator) MaxAttempts() int { return m.cfg.MaxAttempts }

// Mediate picks a move for req.Position. It never mutates game state. With
// rules enforced the returned move is always legal. Errors are limited to
// ErrNoLegalMoves, a cancelled ctx, or an auth failure when no fallback exists.
func (m *Mediator) Mediate(ctx context.Context, req Request) (Result, error) {
	if !req.Position.Valid() {
		return Result{}, errors.New("mediate: position not set")
	}
	legal := req.Position.LegalMoves()
	if req.RulesEnforced && len(legal) == 0 {
		return Result{}, errors.WithStack(ErrNoLegalMoves)
	}
	o := req.Oracle
	if o == nil {
		o = m.oracle
	}

	run := &mediation{
		m:      m,
		req:    req,
		oracle: o,
		legal:  legal,
		id:     uuid.NewString(),
		log:    obslog.L(),
	}
	run.log = run.log.With(zap.String("mediation_id", run.id), zap.String("fen", req.Position.FEN()))
	run.loadSession(ctx)

	res, err := run.loop(ctx)
	if err != nil {
		return res, err
	}
	run.recordSession(ctx, res)
	return res, nil
}

type state int

const (
	stateBuildPrompt state = iota
	stateCallOracle
	stateParse
	stateValidate
	stateFallback
	stateDone
)

type mediation struct {
	m      *Mediator
	req    Request
	oracle oracle.Oracle
	legal  []rules.Move
	id     string
	log    *zap.Logger

	insights map[string]string
	history  []string

	attempts   []Attempt
	rejections []prompt.Rejection
	oracleErrs *multierror.Error
	lastRaw    string
	lastCand   string
	authFailed bool
}

func (r *mediation) loop(ctx context.Context) (Result, error) {
	var (
		st     = stateBuildPrompt
		p      prompt.Prompt
		raw    string
		parsed parser.Result
	)
	for st != stateDone {
		switch st {
		case stateBuildPrompt:
			if err := ctx.Err(); err != nil {
				return r.result(), err
			}
			if len(r.attempts) >= r.m.cfg.MaxAttempts || r.authFailed {
				st = stateFallback
				continue
			}
			var err error
			p, err = r.m.builder.Build(prompt.Input{
				Position:      r.req.Position,
				History:       r.history,
				Plies:         r.req.History,
				Rejections:    r.rejections,
				Insights:      r.insights,
				RulesEnforced: r.req.RulesEnforced,
				Style:         oracle.StyleOf(r.oracle),
			})
			if err != nil {
				return r.result(), errors.Wrap(err, "mediate: build prompt")
			}
			st = stateCallOracle

		case stateCallOracle:
			// The fallback only considers what the latest attempt produced.
			r.lastCand = ""
			var err error
			raw, err = r.call(ctx, p)
			if err != nil {
				if ctx.Err() != nil {
					return r.result(), ctx.Err()
				}
				r.reject("", OutcomeOracleError, err.Error())
				r.oracleErrs = multierror.Append(r.oracleErrs, err)
				if errors.Is(err, oracle.ErrAuth) {
					r.authFailed = true
				}
				st = stateBuildPrompt
				continue
			}
			r.lastRaw = raw
			st = stateParse

		case stateParse:
			parsed = r.parse(raw)
			switch parsed.Kind {
			case parser.KindNone:
				r.reject(truncate(raw, 80), OutcomeUnparseable, "no move found in reply")
				st = stateBuildPrompt
			default:
				st = stateValidate
			}

		case stateValidate:
			text := rules.AutoPromote(r.req.Position, parsed.Move)
			r.lastCand = text
			if outcome, reason, ok := r.validate(text); !ok {
				r.reject(text, outcome, reason)
				st = stateBuildPrompt
				continue
			}
			r.attempts = append(r.attempts, Attempt{
				Index:   len(r.attempts) + 1,
				Text:    text,
				FEN:     r.req.Position.FEN(),
				Outcome: OutcomeAccepted,
			})
			r.log.Info("mediation_accepted",
				zap.String("move", text),
				zap.String("strategy", parsed.Strategy.String()),
				zap.Int("attempts", len(r.attempts)),
			)
			res := r.result()
			res.Move = text
			res.Raw = raw
			res.Unvalidated = !r.req.RulesEnforced && !r.req.Position.IsLegal(mustParse(text))
			return res, nil

		case stateFallback:
			return r.fallback()
		}
	}
	return r.result(), nil
}

func (r *mediation) call(ctx context.Context, p prompt.Prompt) (string, error) {
	if r.oracle == nil {
		return "", errors.Wrap(oracle.ErrTransport, "no oracle configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, r.m.cfg.AttemptTimeout)
	defer cancel()
	start := time.Now()
	raw, err := r.oracle.Complete(callCtx, oracle.FromPrompt(p, r.m.cfg.MaxTokens, r.m.cfg.Temperature))
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil && !errors.Is(err, oracle.ErrTimeout) {
		err = errors.Wrap(oracle.ErrTimeout, err.Error())
	}
	r.log.Debug("mediation_oracle_call",
		zap.Int("attempt", len(r.attempts)+1),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	return raw, err
}

func (r *mediation) parse(raw string) parser.Result {
	pos := r.req.Position
	if r.req.RulesEnforced {
		return parser.Parse(raw, r.legal, &pos)
	}
	// Rules off: accept any well-formed coordinate move, but prefer a legal one.
	if res := parser.Parse(raw, r.legal, &pos); res.OK() {
		return res
	}
	return parser.Parse(raw, nil, &pos)
}

// validate checks a candidate against the legal set, or the pseudo-legal set
// when rules are off.
func (r *mediation) validate(text string) (Outcome, string, bool) {
	mv, err := rules.ParseCoordinateMove(text)
	if err != nil {
		return OutcomeMalformed, "not a coordinate move", false
	}
	pos := r.req.Position
	if r.req.RulesEnforced {
		if !pos.IsLegal(mv) {
			return OutcomeIllegal, "not legal in this position", false
		}
		return OutcomeAccepted, "", true
	}
	if !pos.IsPseudoLegal(mv) {
		if _, ok := pos.PieceAt(mv.From); !ok {
			return OutcomeMalformed, "no piece on " + rules.SquareName(mv.From), false
		}
		return OutcomeIllegal, "piece cannot move like that", false
	}
	return OutcomeAccepted, "", true
}

func (r *mediation) reject(text string, outcome Outcome, reason string) {
	a := Attempt{
		Index:   len(r.attempts) + 1,
		Text:    text,
		FEN:     r.req.Position.FEN(),
		Outcome: outcome,
		Reason:  reason,
	}
	r.attempts = append(r.attempts, a)
	rej := prompt.Rejection{Reason: string(outcome) + ": " + reason}
	if outcome == OutcomeIllegal || outcome == OutcomeMalformed {
		rej.Move = text
	}
	r.rejections = append(r.rejections, rej)
	r.log.Info("mediation_attempt_rejected",
		zap.Int("attempt", a.Index),
		zap.String("outcome", string(outcome)),
		zap.String("text", text),
		zap.String("reason", truncate(reason, 200)),
	)
}

func (r *mediation) fallback() (Result, error) {
	res := r.result()
	res.Fallback = true
	if r.req.RulesEnforced {
		var top []rules.Move
		if r.m.ranker != nil {
			top = r.m.ranker.Top(r.req.Position, r.req.History, 1)
		}
		if len(top) == 0 {
			if len(r.legal) == 0 {
				return res, errors.WithStack(ErrNoLegalMoves)
			}
			top = r.legal[:1]
		}
		res.Move = top[0].String()
		r.log.Warn("mediation_fallback",
			zap.String("move", res.Move),
			zap.Int("attempts", len(r.attempts)),
			zap.Bool("auth_failed", r.authFailed),
			zap.Error(r.oracleErrs.ErrorOrNil()),
		)
		return res, nil
	}
	res.Unvalidated = true
	switch {
	case r.lastCand != "":
		res.Move = r.lastCand
	case strings.TrimSpace(r.lastRaw) != "":
		res.Move = strings.TrimSpace(r.lastRaw)
	}
	res.Raw = r.lastRaw
	if res.Move == "" && r.authFailed {
		return res, errors.Wrap(r.oracleErrs.ErrorOrNil(), "mediate: no oracle output and rules are off")
	}
	r.log.Warn("mediation_fallback_unvalidated",
		zap.String("move", truncate(res.Move, 80)),
		zap.Int("attempts", len(r.attempts)),
	)
	return res, nil
}

func (r *mediation) result() Result {
	return Result{
		Attempts:     append([]Attempt(nil), r.attempts...),
		OracleErrors: r.oracleErrs.ErrorOrNil(),
	}
}

func mustParse(text string) rules.Move {
	mv, _ := rules.ParseCoordinateMove(text)
	return mv
}

// truncate trims s and cuts it to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// rejectionSummary lists the most recent rejected answers, newest last,
// e.g. "e2e5 illegal, unparseable".
func rejectionSummary(rejected []Attempt) string {
	if len(rejected) > prompt.MaxDoNotRepeat {
		rejected = rejected[len(rejected)-prompt.MaxDoNotRepeat:]
	}
	parts := make([]string, 0, len(rejected))
	for _, a := range rejected {
		switch a.Outcome {
		case OutcomeIllegal, OutcomeMalformed:
			parts = append(parts, a.Text+" "+string(a.Outcome))
		default:
			parts = append(parts, string(a.Outcome))
		}
	}
	return strings.Join(parts, ", ")
}

func (r *mediation) loadSession(ctx context.Context) {
	r.history = make([]string, 0, len(r.req.History))
	for _, p := range r.req.History {
		r.history = append(r.history, p.Move.String())
	}
	if r.m.sessions == nil || r.req.SessionKey == nil {
		return
	}
	s, err := r.m.sessions.GetOrCreate(ctx, *r.req.SessionKey)
	if err != nil {
		r.log.Warn("mediation_session_load_failed", zap.Error(err))
		return
	}
	r.insights = s.Insights
}

// recordSession stores the chosen move, anything the oracle said about its
// plan, and a one-line exchange summary. Failures are logged, not returned.
func (r *mediation) recordSession(ctx context.Context, res Result) {
	if r.m.sessions == nil || r.req.SessionKey == nil || res.Move == "" {
		return
	}
	key := *r.req.SessionKey
	var errs *multierror.Error
	if err := r.m.sessions.RecordMove(ctx, key, res.Move); err != nil {
		errs = multierror.Append(errs, err)
	}
	if res.Raw != "" {
		if v := parser.Field(res.Raw, "STRATEGY"); v != "" {
			if err := r.m.sessions.RecordInsight(ctx, key, "latest_strategy", truncate(v, 200)); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		if v := parser.Field(res.Raw, "REASON"); v != "" {
			if err := r.m.sessions.RecordInsight(ctx, key, "latest_reason", truncate(v, 200)); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	if rej := res.Rejections(); len(rej) > 0 {
		if err := r.m.sessions.RecordInsight(ctx, key, "rejections", rejectionSummary(rej)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	summary := "played " + res.Move
	if res.Fallback {
		summary += " (fallback)"
	}
	if err := r.m.sessions.RecordExchange(ctx, key, summary); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := errs.ErrorOrNil(); err != nil {
		r.log.Warn("mediation_session_record_failed", zap.Error(err))
	}
}

// Package facts records verification observations in an embedded Mangle deductive
// database so runs can be queried after the fact.
package facts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"staycheck/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

// Fact is one observation emitted by the verifier.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// New stamps a fact with the current time.
func New(predicate string, args ...interface{}) Fact {
	return Fact{Predicate: predicate, Args: args, Timestamp: time.Now()}
}

// QueryResult binds query variables to values.
type QueryResult map[string]interface{}

// Engine wraps the Mangle store with a bounded, predicate-indexed fact buffer.
type Engine struct {
	cfg    config.FactsConfig
	logger *zap.Logger

	mu           sync.RWMutex
	schemaLoaded bool
	source       []byte
	programInfo  *analysis.ProgramInfo
	store        factstore.FactStore

	facts []Fact
	index map[string][]int
}

func NewEngine(cfg config.FactsConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger.Named("facts"),
		facts:  make([]Fact, 0, max(cfg.FactBufferLimit, 0)),
		index:  make(map[string][]int),
		store:  factstore.NewSimpleInMemoryStore(),
	}

	if cfg.Enable && cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// LoadSchema parses and analyzes a Mangle schema file.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	return e.LoadSchemaSource(data)
}

// LoadSchemaSource is LoadSchema for an in-memory program.
func (e *Engine) LoadSchemaSource(src []byte) error {
	programInfo, err := analyze(src)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.source = append([]byte(nil), src...)
	e.programInfo = programInfo
	e.schemaLoaded = true
	return nil
}

// AddRule extends the loaded program with declarations and rules at runtime. The whole
// program is re-analyzed so the new rules take part in stratification.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	combined := make([]byte, 0, len(e.source)+len(ruleSource)+1)
	combined = append(combined, e.source...)
	combined = append(combined, '\n')
	combined = append(combined, ruleSource...)

	programInfo, err := analyze(combined)
	if err != nil {
		return fmt.Errorf("rule: %w", err)
	}
	e.source = combined
	e.programInfo = programInfo
	e.schemaLoaded = true

	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return fmt.Errorf("eval program after rule: %w", err)
	}
	return nil
}

func analyze(src []byte) (*analysis.ProgramInfo, error) {
	unit, err := parse.Unit(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return programInfo, nil
}

// AddFacts appends facts to the buffer and the Mangle store, then re-evaluates the program.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable || len(facts) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	baseIdx := len(e.facts)
	e.facts = append(e.facts, facts...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		trim := len(e.facts) - e.cfg.FactBufferLimit
		e.facts = e.facts[trim:]
		e.rebuildIndex()
	} else {
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], baseIdx+i)
		}
	}

	// The store is append-only; buffer trimming bounds what Facts/FactsByPredicate return,
	// not what rules can see.
	for _, f := range facts {
		e.store.Add(factToAtom(f))
	}

	if e.schemaLoaded && e.programInfo != nil {
		if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
			e.logger.Warn("eval program failed", zap.Error(err))
			return fmt.Errorf("eval program after fact insertion: %w", err)
		}
	}
	return nil
}

// Query runs a single-atom query such as `escalated(I).` and returns the bindings.
// Falls back to the buffer when the store has nothing for the predicate.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, fmt.Errorf("engine not ready")
	}

	unit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(unit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	queryAtom := unit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		if len(atom.Args) != len(queryAtom.Args) {
			return nil
		}
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			switch q := arg.(type) {
			case ast.Variable:
				if q.Symbol != "_" {
					result[q.Symbol] = convertConstant(atom.Args[i])
				}
			case ast.Constant:
				if !sameValue(convertConstant(q), convertConstant(atom.Args[i])) {
					return nil
				}
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}

	if len(results) == 0 {
		results = append(results, e.queryBuffer(queryAtom.Predicate.Symbol, queryAtom.Args)...)
	}
	return results, nil
}

func (e *Engine) queryBuffer(predicate string, queryArgs []ast.BaseTerm) []QueryResult {
	results := make([]QueryResult, 0)
	for _, idx := range e.index[predicate] {
		f := e.facts[idx]
		if len(f.Args) != len(queryArgs) {
			continue
		}

		result := make(QueryResult)
		matches := true
		for i, qArg := range queryArgs {
			switch q := qArg.(type) {
			case ast.Variable:
				if q.Symbol != "_" {
					result[q.Symbol] = f.Args[i]
				}
			case ast.Constant:
				matches = sameValue(f.Args[i], convertConstant(q))
			}
			if !matches {
				break
			}
		}
		if matches {
			results = append(results, result)
		}
	}
	return results
}

// Evaluate runs the program and returns every fact of predicate, derived or base.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, fmt.Errorf("engine not ready")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return nil, fmt.Errorf("eval program: %w", err)
	}

	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	if arity < 0 {
		return nil, fmt.Errorf("predicate %q is not declared", predicate)
	}

	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	queryAtom := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	now := time.Now()
	out := make([]Fact, 0)
	err := e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		f := atomToFact(atom)
		f.Timestamp = now
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return out, nil
}

// FactsByPredicate returns buffered facts of one predicate in insertion order.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices := e.index[predicate]
	out := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		out = append(out, e.facts[idx])
	}
	return out
}

// Facts returns a copy of the buffer.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// Ready reports whether the engine has a usable query context.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemaLoaded || !e.cfg.Enable
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}, Args: args}
}

func atomToFact(atom ast.Atom) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	case fmt.Stringer:
		return ast.String(val.String())
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(c ast.BaseTerm) interface{} {
	switch term := c.(type) {
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			if val, err := term.StringValue(); err == nil {
				return val
			}
		case ast.NumberType:
			if val, err := term.NumberValue(); err == nil {
				return val
			}
		case ast.Float64Type:
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	case nil:
		return nil
	default:
		return fmt.Sprintf("%v", c)
	}
}

func sameValue(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}

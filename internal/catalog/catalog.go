// Package catalog loads the venue and symbol catalog, with position
// guardrails, from a CUE file validated against an embedded schema.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/shopspring/decimal"

	"github.com/bpolania/DeltaNEAR-sub000/internal/canonjson"
	"github.com/bpolania/DeltaNEAR-sub000/internal/intent"
	"github.com/bpolania/DeltaNEAR-sub000/internal/settlement"
)

// DomainCatalog separates catalog digests from every other digest.
const DomainCatalog = "deltanear/catalog/v1"

//go:embed schema.cue
var schemaSource string

// SchemaHash is the digest of the embedded catalog schema.
func SchemaHash() string {
	return canonjson.HashWithDomain(DomainCatalog, []byte(schemaSource))
}

// Venue is an execution destination.
type Venue struct {
	ID          string
	Chain       string
	Instruments []intent.Instrument
	FeeBps      int64
}

// Symbol is a tradeable market.
type Symbol struct {
	Name        string
	Instruments []intent.Instrument
	MinSize     decimal.Decimal
	MaxSize     decimal.Decimal
}

// Guardrail caps what a signer may trade. A zero or empty field places no
// cap.
type Guardrail struct {
	MaxLeverage     decimal.Decimal
	MaxPositionSize decimal.Decimal
	// MaxDailyVolume caps executed notional per UTC day.
	MaxDailyVolume     decimal.Decimal
	AllowedInstruments []intent.Instrument
	// Cooldown is the minimum gap between two submissions by one signer.
	Cooldown time.Duration
}

// Catalog is a loaded, validated catalog. It is immutable.
type Catalog struct {
	venues       map[string]Venue
	symbols      map[string]Symbol
	defaults     Guardrail
	symbolGuards map[string]Guardrail
	signerGuards map[string]Guardrail
	fees         *settlement.FeeSchedule
	hash         string
}

// Violation is returned when an intent breaks the catalog or a guardrail.
type Violation struct {
	Field   string
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("guardrail violation at %s: %s", v.Field, v.Message)
}

// LoadError reports a catalog that failed to load or validate.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("catalog %s: %v", e.Path, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

type fileVenue struct {
	Chain       string   `json:"chain"`
	Instruments []string `json:"instruments"`
	FeeBps      int64    `json:"fee_bps"`
}

type fileSymbol struct {
	Instruments []string `json:"instruments"`
	MinSize     string   `json:"min_size"`
	MaxSize     string   `json:"max_size"`
}

type fileGuardrail struct {
	MaxLeverage        string   `json:"max_leverage"`
	MaxPositionSize    string   `json:"max_position_size"`
	MaxDailyVolume     string   `json:"max_daily_volume"`
	AllowedInstruments []string `json:"allowed_instruments"`
	CooldownSeconds    int64    `json:"cooldown_seconds"`
}

type fileFees struct {
	ProtocolFeeBps  int64  `json:"protocol_fee_bps"`
	SolverRebateBps int64  `json:"solver_rebate_bps"`
	MinFeeUSDC      string `json:"min_fee_usdc"`
	MaxFeeBps       int64  `json:"max_fee_bps"`
	Treasury        string `json:"treasury"`
}

type file struct {
	Venues     map[string]fileVenue  `json:"venues"`
	Symbols    map[string]fileSymbol `json:"symbols"`
	Guardrails struct {
		Default fileGuardrail            `json:"default"`
		Symbols map[string]fileGuardrail `json:"symbols"`
		Signers map[string]fileGuardrail `json:"signers"`
	} `json:"guardrails"`
	Fees *fileFees `json:"fees"`
}

// Load reads and validates the catalog at path.
func Load(path string) (*Catalog, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return Parse(path, src)
}

// Parse validates src (named name in errors) against the schema.
func Parse(name string, src []byte) (*Catalog, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, &LoadError{Path: "schema.cue", Err: err}
	}

	data := ctx.CompileBytes(src, cue.Filename(name))
	if err := data.Err(); err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}

	value := schema.FillPath(cue.ParsePath("catalog"), data).LookupPath(cue.ParsePath("catalog"))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}

	var f file
	if err := value.Decode(&f); err != nil {
		return nil, &LoadError{Path: name, Err: fmt.Errorf("decode: %w", err)}
	}
	c, err := build(f)
	if err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	if c.hash, err = digest(value); err != nil {
		return nil, &LoadError{Path: name, Err: err}
	}
	return c, nil
}

// digest hashes the concrete catalog, defaults filled in, so formatting
// and key order in the source do not change it.
func digest(value cue.Value) (string, error) {
	raw, err := value.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	v, err := canonjson.Decode(raw)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	return canonjson.MarshalAndHash(DomainCatalog, v)
}

func build(f file) (*Catalog, error) {
	c := &Catalog{
		venues:       make(map[string]Venue, len(f.Venues)),
		symbols:      make(map[string]Symbol, len(f.Symbols)),
		symbolGuards: make(map[string]Guardrail),
		signerGuards: make(map[string]Guardrail),
	}
	for id, v := range f.Venues {
		id = strings.ToLower(id)
		c.venues[id] = Venue{ID: id, Chain: v.Chain, Instruments: instruments(v.Instruments), FeeBps: v.FeeBps}
	}
	for name, s := range f.Symbols {
		name = strings.ToUpper(name)
		min, err := decimal.NewFromString(s.MinSize)
		if err != nil {
			return nil, fmt.Errorf("symbols.%s.min_size: %w", name, err)
		}
		max, err := decimal.NewFromString(s.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("symbols.%s.max_size: %w", name, err)
		}
		if min.GreaterThan(max) {
			return nil, fmt.Errorf("symbols.%s: min_size %s exceeds max_size %s", name, min, max)
		}
		c.symbols[name] = Symbol{Name: name, Instruments: instruments(s.Instruments), MinSize: min, MaxSize: max}
	}

	var err error
	if c.defaults, err = guardrail(f.Guardrails.Default, "guardrails.default"); err != nil {
		return nil, err
	}
	for name, g := range f.Guardrails.Symbols {
		if c.symbolGuards[strings.ToUpper(name)], err = guardrail(g, "guardrails.symbols."+name); err != nil {
			return nil, err
		}
	}
	for id, g := range f.Guardrails.Signers {
		if c.signerGuards[strings.ToLower(id)], err = guardrail(g, "guardrails.signers."+id); err != nil {
			return nil, err
		}
	}

	if f.Fees != nil {
		min, err := decimal.NewFromString(f.Fees.MinFeeUSDC)
		if err != nil {
			return nil, fmt.Errorf("fees.min_fee_usdc: %w", err)
		}
		fees := settlement.FeeSchedule{
			ProtocolFeeBps:  f.Fees.ProtocolFeeBps,
			SolverRebateBps: f.Fees.SolverRebateBps,
			MinFee:          min,
			MaxFeeBps:       f.Fees.MaxFeeBps,
			Treasury:        f.Fees.Treasury,
		}
		if err := fees.Validate(); err != nil {
			return nil, fmt.Errorf("fees: %w", err)
		}
		c.fees = &fees
	}
	return c, nil
}

func guardrail(g fileGuardrail, path string) (Guardrail, error) {
	var out Guardrail
	var err error
	if g.MaxLeverage != "" {
		if out.MaxLeverage, err = decimal.NewFromString(g.MaxLeverage); err != nil {
			return out, fmt.Errorf("%s.max_leverage: %w", path, err)
		}
	}
	if g.MaxPositionSize != "" {
		if out.MaxPositionSize, err = decimal.NewFromString(g.MaxPositionSize); err != nil {
			return out, fmt.Errorf("%s.max_position_size: %w", path, err)
		}
	}
	if g.MaxDailyVolume != "" {
		if out.MaxDailyVolume, err = decimal.NewFromString(g.MaxDailyVolume); err != nil {
			return out, fmt.Errorf("%s.max_daily_volume: %w", path, err)
		}
	}
	if len(g.AllowedInstruments) > 0 {
		out.AllowedInstruments = instruments(g.AllowedInstruments)
	}
	out.Cooldown = time.Duration(g.CooldownSeconds) * time.Second
	return out, nil
}

func instruments(in []string) []intent.Instrument {
	out := make([]intent.Instrument, len(in))
	for i, s := range in {
		out[i] = intent.Instrument(s)
	}
	return out
}

// Venue looks up a venue by id.
func (c *Catalog) Venue(id string) (Venue, bool) {
	v, ok := c.venues[id]
	return v, ok
}

// Venues returns venue ids, sorted.
func (c *Catalog) Venues() []string {
	ids := make([]string, 0, len(c.venues))
	for id := range c.venues {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Fees returns the catalog fee schedule, if the catalog sets one.
func (c *Catalog) Fees() (settlement.FeeSchedule, bool) {
	if c.fees == nil {
		return settlement.FeeSchedule{}, false
	}
	return *c.fees, true
}

// Hash is the digest of the loaded catalog.
func (c *Catalog) Hash() string { return c.hash }

// VenueSupports reports whether venue id offers instrument.
func (c *Catalog) VenueSupports(id string, instrument intent.Instrument) bool {
	v, ok := c.venues[id]
	return ok && slices.Contains(v.Instruments, instrument)
}

// GuardrailFor resolves the effective caps for a signer and symbol. Each
// field is taken from the signer entry, else the symbol entry, else the
// default.
func (c *Catalog) GuardrailFor(signerID, symbol string) Guardrail {
	g := c.defaults
	var layers []Guardrail
	if s, ok := c.symbolGuards[symbol]; ok {
		layers = append(layers, s)
	}
	if s, ok := c.signerGuards[signerID]; ok {
		layers = append(layers, s)
	}
	for _, l := range layers {
		if !l.MaxLeverage.IsZero() {
			g.MaxLeverage = l.MaxLeverage
		}
		if !l.MaxPositionSize.IsZero() {
			g.MaxPositionSize = l.MaxPositionSize
		}
		if !l.MaxDailyVolume.IsZero() {
			g.MaxDailyVolume = l.MaxDailyVolume
		}
		if len(l.AllowedInstruments) > 0 {
			g.AllowedInstruments = l.AllowedInstruments
		}
		if l.Cooldown > 0 {
			g.Cooldown = l.Cooldown
		}
	}
	return g
}

// Check validates a canonical intent against the catalog and guardrails.
func (c *Catalog) Check(in *intent.Intent) error {
	d := in.Derivatives
	sym, ok := c.symbols[d.Symbol]
	if !ok {
		return &Violation{Field: "derivatives.symbol", Message: fmt.Sprintf("symbol %s is not listed", d.Symbol)}
	}
	if !slices.Contains(sym.Instruments, d.Instrument) {
		return &Violation{Field: "derivatives.instrument", Message: fmt.Sprintf("%s is not offered for %s", d.Instrument, d.Symbol)}
	}

	size, err := decimal.NewFromString(d.Size)
	if err != nil {
		return &Violation{Field: "derivatives.size", Message: err.Error()}
	}
	if size.LessThan(sym.MinSize) || size.GreaterThan(sym.MaxSize) {
		return &Violation{Field: "derivatives.size", Message: fmt.Sprintf("size %s outside [%s, %s] for %s", d.Size, sym.MinSize, sym.MaxSize, d.Symbol)}
	}

	g := c.GuardrailFor(in.SignerID, d.Symbol)
	if len(g.AllowedInstruments) > 0 && !slices.Contains(g.AllowedInstruments, d.Instrument) {
		return &Violation{Field: "derivatives.instrument", Message: fmt.Sprintf("%s is not allowed for %s on %s", d.Instrument, in.SignerID, d.Symbol)}
	}
	if !g.MaxPositionSize.IsZero() && size.GreaterThan(g.MaxPositionSize) {
		return &Violation{Field: "derivatives.size", Message: fmt.Sprintf("size %s exceeds position cap %s", d.Size, g.MaxPositionSize)}
	}
	lev, err := decimal.NewFromString(d.Leverage)
	if err != nil {
		return &Violation{Field: "derivatives.leverage", Message: err.Error()}
	}
	if !g.MaxLeverage.IsZero() && lev.GreaterThan(g.MaxLeverage) {
		return &Violation{Field: "derivatives.leverage", Message: fmt.Sprintf("leverage %s exceeds cap %s", d.Leverage, g.MaxLeverage)}
	}
	return nil
}

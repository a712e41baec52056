/*
amcu.go - Line protocol parser for AMCU milk-analyzer packets

PURPOSE:
  Automatic Milk Collection Units stream measurements over serial as plain
  KEY:value lines, one packet per pour:

      CID:107
      QTY:8.5
      FAT:4.2
      SNF:8.6
      CLR:28.0
      SHIFT:M
      MILK:COW
      DATE:2026-03-05
      END

  The parser is a small state machine fed one line at a time. END closes
  the packet; a CID line RESETS it, so a truncated previous pour can never
  leak fields into the next farmer's packet. Unknown keys are kept but
  ignored downstream.

  The packet's CID is the unit's own customer number, not ours; the caller
  maps it through the customer directory before building a candidate.
*/
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mydairy/settlement-engine/ledger"
)

// ErrIncompletePacket marks a packet missing a required field (CID or QTY).
var ErrIncompletePacket = errors.New("incomplete analyzer packet")

// Default observation used when the unit reports no fat/SNF measurement, so
// the entry can still resolve against the standard-quality band.
var (
	defaultFat = decimal.NewFromFloat(4.0)
	defaultSNF = decimal.NewFromFloat(8.5)
)

// =============================================================================
// PARSER - One packet accumulating across Feed calls
// =============================================================================

// PacketParser accumulates KEY:value lines until END. Not safe for
// concurrent use; one parser per serial line.
type PacketParser struct {
	fields map[string]string
}

func NewPacketParser() *PacketParser {
	return &PacketParser{fields: make(map[string]string)}
}

// Feed consumes one line. It returns a non-nil Packet exactly when the line
// is the END terminator; every other line returns nil. Blank lines and lines
// without a colon are tolerated noise.
func (p *PacketParser) Feed(line string) *Packet {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if line == "END" {
		packet := &Packet{fields: p.fields}
		p.fields = make(map[string]string)
		return packet
	}

	colon := strings.Index(line, ":")
	if colon <= 0 {
		return nil
	}
	key := strings.ToUpper(strings.TrimSpace(line[:colon]))
	value := strings.TrimSpace(line[colon+1:])

	// A new CID means a new pour; drop whatever a truncated packet left.
	if key == "CID" {
		p.fields = make(map[string]string)
	}
	p.fields[key] = value
	return nil
}

// =============================================================================
// PACKET - Raw fields, decoded on demand
// =============================================================================

// Packet is one complete analyzer transmission.
type Packet struct {
	fields map[string]string
}

// CID is the analyzer-local customer number. Empty when the unit never sent
// one; such packets fail Candidate.
func (p *Packet) CID() string {
	return p.fields["CID"]
}

// Field exposes a raw value for diagnostics and logging.
func (p *Packet) Field(key string) (string, bool) {
	v, ok := p.fields[key]
	return v, ok
}

// Candidate decodes the packet into an unpriced collection candidate.
// customerID is the directory-resolved owner of the packet's CID; today is
// the fallback when the unit sent no DATE.
//
// Missing FAT/SNF fall back to the standard 4.0/8.5 observation. Missing
// SHIFT defaults to morning. Missing or unparseable required fields return
// an error wrapping ErrIncompletePacket or naming the bad field.
func (p *Packet) Candidate(customerID ledger.CustomerID, fallbackMilk ledger.MilkType, today ledger.Date) (EntryCandidate, error) {
	if p.CID() == "" {
		return EntryCandidate{}, fmt.Errorf("%w: no CID", ErrIncompletePacket)
	}
	raw, ok := p.fields["QTY"]
	if !ok {
		return EntryCandidate{}, fmt.Errorf("%w: no QTY", ErrIncompletePacket)
	}
	quantity, err := decimal.NewFromString(raw)
	if err != nil {
		return EntryCandidate{}, fmt.Errorf("bad QTY %q: %w", raw, err)
	}

	fat, err := p.decimalOr("FAT", defaultFat)
	if err != nil {
		return EntryCandidate{}, err
	}
	snf, err := p.decimalOr("SNF", defaultSNF)
	if err != nil {
		return EntryCandidate{}, err
	}

	date := today
	if raw, ok := p.fields["DATE"]; ok {
		date, err = ledger.ParseDate(raw)
		if err != nil {
			return EntryCandidate{}, fmt.Errorf("bad DATE %q: %w", raw, err)
		}
	}

	return EntryCandidate{
		CustomerID: customerID,
		Date:       date,
		Shift:      parseShift(p.fields["SHIFT"]),
		MilkType:   parseMilkType(p.fields["MILK"], fallbackMilk),
		Quantity:   quantity,
		Fat:        fat,
		SNF:        snf,
	}, nil
}

func (p *Packet) decimalOr(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw, ok := p.fields[key]
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("bad %s %q: %w", key, raw, err)
	}
	return v, nil
}

// Units transmit M/E; some models spell it out.
func parseShift(raw string) ledger.Shift {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "E", "EVE", "EVENING":
		return ledger.ShiftEvening
	default:
		return ledger.ShiftMorning
	}
}

func parseMilkType(raw string, fallback ledger.MilkType) ledger.MilkType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "COW":
		return ledger.MilkCow
	case "BUF", "BUFFALO":
		return ledger.MilkBuffalo
	case "MIX", "MIXED":
		return ledger.MilkMixed
	default:
		return fallback
	}
}

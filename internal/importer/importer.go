package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"commerce-checkout/internal/domain"
)

type PriceWriter interface {
	UpsertBasePrice(ctx context.Context, bp domain.BasePrice) error
}

// Notifier receives one PriceChanged event per imported variant.
type Notifier func(ctx context.Context, evt domain.CartEvent) error

// CSVImporter reads price list exports and upserts base prices with their volume tiers.
type CSVImporter struct {
	reader *csv.Reader
	prices PriceWriter
	notify Notifier
}

func NewCSVImporter(r io.Reader, prices PriceWriter, notify Notifier) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	return &CSVImporter{reader: csvr, prices: prices, notify: notify}
}

type csvRow struct {
	VariantID string
	ProductID string
	Currency  string
	Cents     string
	Tier      *domain.PriceTier
}

type pending struct {
	price     domain.BasePrice
	productID string
}

// Run parses CSV rows and upserts prices grouped by variant. Rows without a variant_id carry
// additional tiers for the preceding variant.
func (i *CSVImporter) Run(ctx context.Context) (int, error) {
	headers, err := i.reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)
	if _, ok := index["variant_id"]; !ok {
		return 0, errors.New("missing variant_id column")
	}

	var (
		current  *pending
		imported int
	)

	for {
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read row: %w", err)
		}

		row, err := parseRow(record, index)
		if err != nil {
			return imported, err
		}
		if row == nil {
			continue
		}

		if row.VariantID != "" {
			if current != nil {
				if err := i.save(ctx, current); err != nil {
					return imported, err
				}
				imported++
			}
			if current, err = newPending(row); err != nil {
				return imported, err
			}
			continue
		}

		if current == nil {
			return imported, errors.New("tier row before any variant row")
		}
		if row.Tier != nil {
			current.price.Tiers = append(current.price.Tiers, *row.Tier)
		}
	}

	if current != nil {
		if err := i.save(ctx, current); err != nil {
			return imported, err
		}
		imported++
	}

	return imported, nil
}

func newPending(row *csvRow) (*pending, error) {
	if row.Currency == "" || row.Cents == "" {
		return nil, fmt.Errorf("invalid price row (missing required fields) for variant %q", row.VariantID)
	}
	if len(row.Currency) != 3 {
		return nil, fmt.Errorf("invalid currency for variant %q: %s", row.VariantID, row.Currency)
	}
	cents, err := strconv.ParseInt(row.Cents, 10, 64)
	if err != nil || cents < 0 {
		return nil, fmt.Errorf("invalid amount_cents for variant %q: %s", row.VariantID, row.Cents)
	}
	p := &pending{
		price: domain.BasePrice{
			VariantID:   row.VariantID,
			Currency:    strings.ToUpper(row.Currency),
			AmountCents: cents,
		},
		productID: row.ProductID,
	}
	if row.Tier != nil {
		p.price.Tiers = append(p.price.Tiers, *row.Tier)
	}
	return p, nil
}

func (i *CSVImporter) save(ctx context.Context, p *pending) error {
	if err := i.prices.UpsertBasePrice(ctx, p.price); err != nil {
		return fmt.Errorf("upsert price %q: %w", p.price.VariantID, err)
	}
	if i.notify == nil {
		return nil
	}
	evt := domain.CartEvent{
		Trigger:    domain.TriggerPriceChanged,
		Context:    map[string]string{"variant_id": p.price.VariantID},
		OccurredAt: time.Now().UTC(),
	}
	if p.productID != "" {
		evt.Context["product_id"] = p.productID
	}
	if err := i.notify(ctx, evt); err != nil {
		return fmt.Errorf("notify price change %q: %w", p.price.VariantID, err)
	}
	return nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

func parseRow(record []string, index map[string]int) (*csvRow, error) {
	row := &csvRow{
		VariantID: pick(record, index, "variant_id"),
		ProductID: pick(record, index, "product_id"),
		Currency:  pick(record, index, "currency"),
		Cents:     pick(record, index, "amount_cents"),
	}

	tierName := pick(record, index, "tier.name")
	tierMin := pick(record, index, "tier.min_quantity")
	tierCents := pick(record, index, "tier.amount_cents")
	if tierMin != "" || tierCents != "" {
		minQty, err := strconv.Atoi(tierMin)
		if err != nil || minQty < 2 {
			return nil, fmt.Errorf("invalid tier.min_quantity %q", tierMin)
		}
		cents, err := strconv.ParseInt(tierCents, 10, 64)
		if err != nil || cents < 0 {
			return nil, fmt.Errorf("invalid tier.amount_cents %q", tierCents)
		}
		row.Tier = &domain.PriceTier{Name: tierName, MinQuantity: minQty, AmountCents: cents}
	}

	if row.VariantID == "" && row.Tier == nil {
		return nil, nil
	}
	return row, nil
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}

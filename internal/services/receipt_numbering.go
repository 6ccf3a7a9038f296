package services

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"reservo_app_echo/internal/models"
)

// NumberingStore is the view of stored receipts the allocator reads and writes.
// Implementations must only be used inside the tenant's serialized scope.
type NumberingStore interface {
	// MaxSequence returns the highest stored sequence number, restricted to year when non-nil
	MaxSequence(ctx context.Context, businessID uint, year *int) (int64, error)
	// ReceiptNumbersLike returns formatted numbers matching a SQL LIKE pattern
	ReceiptNumbersLike(ctx context.Context, businessID uint, pattern string) ([]string, error)
	SaveHighWaterMark(ctx context.Context, businessID uint, number int64) error
}

// NumberAllocation is one issued receipt number
type NumberAllocation struct {
	SequenceYear   int
	SequenceNumber int64
	ReceiptNumber  string
}

// ReceiptNumberAllocator derives the next receipt number for a tenant
type ReceiptNumberAllocator struct{}

// Allocate returns max(stored sequence, highest parsed suffix, initial number) + 1 formatted
// with the business template. The caller must hold the tenant lock.
func (ReceiptNumberAllocator) Allocate(ctx context.Context, store NumberingStore, business models.Business, now time.Time) (NumberAllocation, error) {
	numbering := business.ReceiptNumbering
	template := numbering.EffectiveTemplate()
	if !strings.Contains(template, models.TokenNumber) {
		return NumberAllocation{}, fmt.Errorf("%w: %q has no %s token", ErrInvalidReceiptTemplate, template, models.TokenNumber)
	}

	year := now.In(business.Location()).Year()
	yearly := resetsYearly(numbering)

	var window *int
	seqYear := 0
	if yearly {
		window = &year
		seqYear = year
	}

	stored, err := store.MaxSequence(ctx, business.ID, window)
	if err != nil {
		return NumberAllocation{}, fmt.Errorf("failed to read stored sequence: %w", err)
	}

	candidates, err := store.ReceiptNumbersLike(ctx, business.ID, likePattern(template, numbering.Prefix, year, yearly))
	if err != nil {
		return NumberAllocation{}, fmt.Errorf("failed to read existing receipt numbers: %w", err)
	}
	parsed := maxParsedSuffix(suffixPattern(template, numbering.Prefix, year, yearly), candidates)

	next := max(stored, parsed, numbering.InitialNumber) + 1

	if err := store.SaveHighWaterMark(ctx, business.ID, next); err != nil {
		return NumberAllocation{}, fmt.Errorf("failed to save last issued number: %w", err)
	}

	return NumberAllocation{
		SequenceYear:   seqYear,
		SequenceNumber: next,
		ReceiptNumber:  FormatReceiptNumber(template, numbering.Prefix, year, numbering.EffectivePadLength(), next),
	}, nil
}

// resetsYearly is only honoured when the template carries the year;
// otherwise two years would produce the same formatted number.
func resetsYearly(n models.ReceiptNumbering) bool {
	return n.ResetYearly && strings.Contains(n.EffectiveTemplate(), models.TokenYear)
}

// FormatReceiptNumber substitutes the template tokens. The number is zero-padded to pad digits.
func FormatReceiptNumber(template, prefix string, year, pad int, number int64) string {
	return strings.NewReplacer(
		models.TokenYear, strconv.Itoa(year),
		models.TokenPrefix, prefix,
		models.TokenNumber, fmt.Sprintf("%0*d", pad, number),
	).Replace(template)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func likePattern(template, prefix string, year int, yearly bool) string {
	yearPart := "%"
	if yearly {
		yearPart = strconv.Itoa(year)
	}
	return strings.NewReplacer(
		models.TokenYear, yearPart,
		models.TokenPrefix, likeEscaper.Replace(prefix),
		models.TokenNumber, "%",
	).Replace(likeEscaper.Replace(template))
}

func suffixPattern(template, prefix string, year int, yearly bool) *regexp.Regexp {
	yearPart := `\d{4}`
	if yearly {
		yearPart = strconv.Itoa(year)
	}

	quoted := regexp.QuoteMeta(template)
	expr := strings.NewReplacer(
		regexp.QuoteMeta(models.TokenYear), yearPart,
		regexp.QuoteMeta(models.TokenPrefix), regexp.QuoteMeta(prefix),
		regexp.QuoteMeta(models.TokenNumber), `(\d+)`,
	).Replace(quoted)
	return regexp.MustCompile("^" + expr + "$")
}

func maxParsedSuffix(re *regexp.Regexp, numbers []string) int64 {
	var highest int64
	for _, n := range numbers {
		m := re.FindStringSubmatch(n)
		if m == nil {
			continue
		}
		// Only the last capture is the number; the template may repeat {NUMBER}
		v, err := strconv.ParseInt(m[len(m)-1], 10, 64)
		if err == nil && v > highest {
			highest = v
		}
	}
	return highest
}

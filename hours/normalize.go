/*
normalize.go - Canonicalizes raw stored records

PURPOSE:
  Historical documents stored "day" and "period" under at least three
  conventions: padded vs unpadded period strings ("2024-07" vs
  "2024-7"), string days vs timestamp-typed days, and records where the
  period can only be inferred from the creation timestamp. Normalize
  turns any of those shapes into one unambiguous TimeEntry.

CANONICAL FORMS:
  day:    YYYY-MM-DD, fully zero-padded
  period: YYYY-MM, always day[:7] once a day is known

FALLBACK CHAIN for the calendar day:
  1. the stored day value (string, re-padded; or timestamp, local date)
  2. the creation timestamp's local calendar date
  3. none - the stored period (padded) alone places the record; day
     stays empty
  4. nothing usable - NormalizeError; the record must be excluded from
     period views and reported, never silently coerced.

PURITY:
  Normalize is pure and referentially transparent: the same raw input
  always yields the same normalized output.
*/
package hours

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/timesheet-engine/docstore"
)

const dayLayout = "2006-01-02"

// Normalize converts one raw stored document into a canonical TimeEntry.
func Normalize(docID string, d docstore.Doc) (TimeEntry, error) {
	day, dayOK := normalizeDay(d[FieldDay])
	if !dayOK {
		if created, ok := docTime(d, FieldCreatedAt); ok {
			day = created.In(time.Local).Format(dayLayout)
			dayOK = true
		}
	}

	var period string
	if dayOK {
		period = day[:7]
	} else if p, ok := padPeriod(docString(d, FieldPeriod)); ok {
		// Last resort: the stored period hint alone places the record.
		period = p
	} else {
		return TimeEntry{}, &NormalizeError{DocID: docID, Reason: "no usable day, createdAt, or period"}
	}

	e := TimeEntry{
		DocID:            docID,
		OwnerID:          docString(d, FieldOwnerID),
		Day:              day,
		Period:           period,
		Project:          docString(d, FieldProject),
		Notes:            docString(d, FieldNotes),
		BriefCount:       decimal.NewFromFloat(docFloat(d, FieldBriefCount)),
		Status:           EntryStatus(docString(d, FieldStatus)),
		ReviewStatus:     ReviewStatus(docString(d, FieldReviewStatus)),
		HasDispute:       docBool(d, FieldHasDispute),
		RejectionNote:    docString(d, FieldRejectionNote),
		DisputeMessage:   docString(d, FieldDisputeMessage),
		SupervisorLabel:  docString(d, FieldSupervisorLabel),
		OwnerDisplayName: docString(d, FieldOwnerDisplayName),
		OwnerEmail:       docString(d, FieldOwnerEmail),
	}
	if created, ok := docTime(d, FieldCreatedAt); ok {
		e.CreatedAt = created
	}
	if docBool(d, FieldIncludeMorning) {
		e.Morning = &Window{Start: docString(d, FieldMorningStart), End: docString(d, FieldMorningEnd)}
	}
	if docBool(d, FieldIncludeAfternoon) {
		e.Afternoon = &Window{Start: docString(d, FieldAfternoonStart), End: docString(d, FieldAfternoonEnd)}
	}
	return e, nil
}

// normalizeDay canonicalizes a stored day value. Strings are re-padded
// to YYYY-MM-DD; timestamp-typed values become the local calendar date.
func normalizeDay(v any) (string, bool) {
	switch day := v.(type) {
	case string:
		return CanonicalDay(day)
	case time.Time:
		return day.In(time.Local).Format(dayLayout), true
	}
	return "", false
}

// CanonicalDay re-pads a date string to YYYY-MM-DD and verifies it is a
// real calendar date. "2024-7-5" becomes "2024-07-05".
func CanonicalDay(s string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return "", false
	}
	y, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	d, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", false
	}
	canonical := fmt.Sprintf("%04d-%02d-%02d", y, m, d)
	if _, err := time.Parse(dayLayout, canonical); err != nil {
		return "", false
	}
	return canonical, true
}

// padPeriod canonicalizes a stored period hint: "2024-7" -> "2024-07".
func padPeriod(s string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return "", false
	}
	y, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || m < 1 || m > 12 {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d", y, m), true
}

// periodVariants returns the padded and unpadded spellings of a period.
// For months 10-12 the two coincide.
func periodVariants(period string) (padded, noPad string, ok bool) {
	parts := strings.Split(period, "-")
	if len(parts) != 2 {
		return "", "", false
	}
	y, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || m < 1 || m > 12 {
		return "", "", false
	}
	return fmt.Sprintf("%04d-%02d", y, m), fmt.Sprintf("%d-%d", y, m), true
}

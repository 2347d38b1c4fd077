package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Reasons recorded on listings by the approval workflow.
const (
	ReasonNewListing     = "New listing awaiting admin review"
	ReasonMarkedOccupied = "Marked occupied by landlord"
	ReasonMarkedVacant   = "Marked vacant by landlord"
	editedFieldsPrefix   = "Edited fields: "
)

var fieldLabels = map[string]string{
	"monthly_rent":   "monthly rent",
	"available_date": "available date",
	"contact_phone":  "contact phone",
	"contact_email":  "contact email",
}

// FieldLabel renders a column name for humans.
func FieldLabel(field string) string {
	if l, ok := fieldLabels[field]; ok {
		return l
	}
	return strings.ReplaceAll(field, "_", " ")
}

// ListingSnapshot captures the landlord-editable state of a listing.
type ListingSnapshot struct {
	Title         string
	Description   string
	Location      string
	ExactLocation string
	Size          string
	MonthlyRent   decimal.Decimal
	Deposit       decimal.Decimal
	AvailableDate string
	Images        StringList
	Amenities     StringList
	ContactPhone  string
	ContactEmail  string
	IsVacant      bool
}

func SnapshotListing(l *Listing) ListingSnapshot {
	s := ListingSnapshot{
		Title:         l.Title,
		Description:   l.Description,
		Location:      l.Location,
		ExactLocation: l.ExactLocation,
		Size:          l.Size,
		MonthlyRent:   l.MonthlyRent,
		Deposit:       l.Deposit,
		Images:        append(StringList(nil), l.Images...),
		Amenities:     append(StringList(nil), l.Amenities...),
		ContactPhone:  l.ContactPhone,
		ContactEmail:  l.ContactEmail,
		IsVacant:      l.IsVacant,
	}
	if l.AvailableDate != nil {
		s.AvailableDate = *l.AvailableDate
	}
	return s
}

// ListingChanges is the difference between two snapshots. Fields is in
// declaration order and excludes vacancy.
type ListingChanges struct {
	Fields         []string
	VacancyChanged bool
	NowVacant      bool
}

// Diff compares s (before) with after.
func (s ListingSnapshot) Diff(after ListingSnapshot) ListingChanges {
	var c ListingChanges
	add := func(name string, changed bool) {
		if changed {
			c.Fields = append(c.Fields, name)
		}
	}
	add("title", s.Title != after.Title)
	add("description", s.Description != after.Description)
	add("location", s.Location != after.Location)
	add("exact_location", s.ExactLocation != after.ExactLocation)
	add("size", s.Size != after.Size)
	add("monthly_rent", !s.MonthlyRent.Equal(after.MonthlyRent))
	add("deposit", !s.Deposit.Equal(after.Deposit))
	add("available_date", s.AvailableDate != after.AvailableDate)
	add("images", !s.Images.Equal(after.Images))
	add("amenities", !s.Amenities.Equal(after.Amenities))
	add("contact_phone", s.ContactPhone != after.ContactPhone)
	add("contact_email", s.ContactEmail != after.ContactEmail)

	c.VacancyChanged = s.IsVacant != after.IsVacant
	c.NowVacant = after.IsVacant
	return c
}

func (c ListingChanges) Empty() bool {
	return len(c.Fields) == 0 && !c.VacancyChanged
}

// Reason explains the change. A vacancy toggle wins over field edits.
func (c ListingChanges) Reason() string {
	switch {
	case c.VacancyChanged && c.NowVacant:
		return ReasonMarkedVacant
	case c.VacancyChanged:
		return ReasonMarkedOccupied
	case len(c.Fields) > 0:
		labels := make([]string, len(c.Fields))
		for i, f := range c.Fields {
			labels[i] = FieldLabel(f)
		}
		return editedFieldsPrefix + strings.Join(labels, ", ")
	default:
		return ""
	}
}

// ApplyLandlordEdit updates l's approval state after a landlord edit that
// produced c. An approved listing with any change falls back to pending;
// otherwise the status is kept and only a vacancy toggle records a reason.
// It reports whether the status changed.
func ApplyLandlordEdit(l *Listing, c ListingChanges) bool {
	if c.Empty() {
		return false
	}
	reason := c.Reason()
	if l.ApprovalStatus == StatusApproved {
		l.ApprovalStatus = StatusPending
		l.PendingReason = reason
		return true
	}
	if c.VacancyChanged {
		l.PendingReason = reason
	}
	return false
}

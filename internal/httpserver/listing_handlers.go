package httpserver

import (
	"net/http"

	"github.com/shopspring/decimal"

	"househunter/internal/domain"
	"househunter/internal/service"
)

// listingRequest accepts both snake_case and the camelCase keys older
// clients send. Absent keys stay nil so the same shape serves patches.
type listingRequest struct {
	Title         *string            `json:"title"`
	Description   *string            `json:"description"`
	Location      *string            `json:"location"`
	ExactLocation *string            `json:"exact_location"`
	Size          *string            `json:"size"`
	MonthlyRent   *decimal.Decimal   `json:"monthly_rent"`
	Deposit       *decimal.Decimal   `json:"deposit"`
	AvailableDate *string            `json:"available_date"`
	Images        *domain.StringList `json:"images"`
	Amenities     *domain.StringList `json:"amenities"`
	ContactPhone  *string            `json:"contact_phone"`
	ContactEmail  *string            `json:"contact_email"`
	IsVacant      *bool              `json:"is_vacant"`
	LandlordName  *string            `json:"landlord_name"`

	ExactLocationAlt *string          `json:"exactLocation"`
	MonthlyRentAlt   *decimal.Decimal `json:"monthlyRent"`
	AvailableDateAlt *string          `json:"availableDate"`
	ContactPhoneAlt  *string          `json:"contactPhone"`
	ContactEmailAlt  *string          `json:"contactEmail"`
	IsVacantAlt      *bool            `json:"isVacant"`
	LandlordNameAlt  *string          `json:"landlordName"`
}

func either[T any](primary, alt *T) *T {
	if primary != nil {
		return primary
	}
	return alt
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (req listingRequest) patch() service.ListingPatch {
	return service.ListingPatch{
		Title:         req.Title,
		Description:   req.Description,
		Location:      req.Location,
		ExactLocation: either(req.ExactLocation, req.ExactLocationAlt),
		Size:          req.Size,
		MonthlyRent:   either(req.MonthlyRent, req.MonthlyRentAlt),
		Deposit:       req.Deposit,
		AvailableDate: either(req.AvailableDate, req.AvailableDateAlt),
		Images:        req.Images,
		Amenities:     req.Amenities,
		ContactPhone:  either(req.ContactPhone, req.ContactPhoneAlt),
		ContactEmail:  either(req.ContactEmail, req.ContactEmailAlt),
		IsVacant:      either(req.IsVacant, req.IsVacantAlt),
	}
}

func (req listingRequest) input() service.ListingInput {
	p := req.patch()
	in := service.ListingInput{
		Title:         str(p.Title),
		Description:   str(p.Description),
		Location:      str(p.Location),
		ExactLocation: str(p.ExactLocation),
		Size:          str(p.Size),
		ContactPhone:  str(p.ContactPhone),
		ContactEmail:  str(p.ContactEmail),
		IsVacant:      p.IsVacant,
		LandlordName:  str(either(req.LandlordName, req.LandlordNameAlt)),
	}
	if p.MonthlyRent != nil {
		in.MonthlyRent = *p.MonthlyRent
	}
	if p.Deposit != nil {
		in.Deposit = *p.Deposit
	}
	if p.AvailableDate != nil && *p.AvailableDate != "" {
		in.AvailableDate = p.AvailableDate
	}
	if p.Images != nil {
		in.Images = *p.Images
	}
	if p.Amenities != nil {
		in.Amenities = *p.Amenities
	}
	return in
}

func writeListings(w http.ResponseWriter, listings []*domain.Listing) {
	if listings == nil {
		listings = []*domain.Listing{}
	}
	writeJSON(w, http.StatusOK, listings)
}

// handleBrowseListings lists approved, vacant listings for anyone.
func handleBrowseListings(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, limit := page(r)
		listings, err := listingSvc.Browse(r.Context(), r.URL.Query().Get("search"), offset, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeListings(w, listings)
	}
}

func handleGetListing(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "listingID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		l, err := listingSvc.Get(r.Context(), CurrentUser(r), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handleRecordView(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "listingID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		count, err := listingSvc.RecordView(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"view_count": count})
	}
}

func handleMyListings(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, limit := page(r)
		listings, err := listingSvc.Mine(r.Context(), CurrentUser(r), offset, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeListings(w, listings)
	}
}

func handleCreateListing(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req listingRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		l, err := listingSvc.Create(r.Context(), CurrentUser(r), req.input())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, l)
	}
}

func handleUpdateListing(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "listingID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req listingRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		l, err := listingSvc.Update(r.Context(), CurrentUser(r), id, req.patch())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handleDeleteListing(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "listingID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := listingSvc.Delete(r.Context(), CurrentUser(r), id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Admin

func handleAdminListings(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, limit := page(r)
		status := domain.ApprovalStatus(r.URL.Query().Get("status"))
		listings, err := listingSvc.AdminList(r.Context(), CurrentUser(r), status, offset, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeListings(w, listings)
	}
}

func handlePendingListings(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, limit := page(r)
		listings, err := listingSvc.Pending(r.Context(), CurrentUser(r), offset, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeListings(w, listings)
	}
}

func handleApproveListing(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "listingID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		l, err := listingSvc.Approve(r.Context(), CurrentUser(r), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

type statusRequest struct {
	Status domain.ApprovalStatus `json:"status"`
	Reason string                `json:"reason"`
}

func handleRejectListing(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "listingID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req statusRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		l, err := listingSvc.Reject(r.Context(), CurrentUser(r), id, req.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

func handleChangeListingStatus(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "listingID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		var req statusRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		l, err := listingSvc.ChangeStatus(r.Context(), CurrentUser(r), id, req.Status, req.Reason)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, l)
	}
}

type bulkDeleteRequest struct {
	IDs []int64 `json:"ids"`
}

func handleBulkDeleteListings(listingSvc *service.ListingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkDeleteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		deleted, err := listingSvc.BulkDelete(r.Context(), CurrentUser(r), req.IDs)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if deleted == nil {
			deleted = []int64{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted_ids": deleted})
	}
}

package httpserver

import (
	"net/http"

	"househunter/internal/domain"
	"househunter/internal/service"
)

func handleListUsers(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, limit := page(r)
		users, err := userSvc.List(r.Context(), CurrentUser(r), offset, limit)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

// handleGetUser returns a user to an admin or to the user themself.
func handleGetUser(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "userID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		actor := CurrentUser(r)
		if actor.ID != id && actor.Role != domain.RoleAdmin {
			writeError(w, r, domain.ErrForbidden)
			return
		}
		user, err := userSvc.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func handleHeartbeat(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := userSvc.Heartbeat(r.Context(), CurrentUser(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func handleSetBanned(userSvc *service.UserService, banned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "userID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		user, err := userSvc.SetBanned(r.Context(), CurrentUser(r), id, banned)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func handleDeleteUser(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := urlID(r, "userID")
		if err != nil {
			writeError(w, r, err)
			return
		}
		deleteUser(w, r, userSvc, id)
	}
}

func handleDeleteSelf(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleteUser(w, r, userSvc, CurrentUser(r).ID)
	}
}

func deleteUser(w http.ResponseWriter, r *http.Request, userSvc *service.UserService, id int64) {
	listingIDs, err := userSvc.Delete(r.Context(), CurrentUser(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if listingIDs == nil {
		listingIDs = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted_user_id":     id,
		"deleted_listing_ids": listingIDs,
	})
}

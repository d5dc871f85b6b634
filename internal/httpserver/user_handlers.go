package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/samber/lo"

	"chatcore/internal/domain"
	"chatcore/internal/service"
)

func userViews(users []*domain.User) []*service.UserView {
	return lo.Map(users, func(u *domain.User, _ int) *service.UserView {
		v := service.NewUserView(u)
		v.Email = ""
		return v
	})
}

// @Summary      Search users
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        q  query  string  true  "Username or name fragment"
// @Success      200  {array}  service.UserView
// @Router       /users/search [get]
func handleSearchUsers(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := userSvc.Search(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, userViews(users))
	}
}

// @Summary      List online users
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}  service.UserView
// @Router       /users/online [get]
func handleListOnlineUsers(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := userSvc.ListOnline(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, userViews(users))
	}
}

// @Summary      Get user
// @Tags         users
// @Security     BearerAuth
// @Produce      json
// @Param        userID  path  int  true  "User ID"
// @Success      200  {object}  service.UserView
// @Failure      404  {object}  errorResponse
// @Router       /users/{userID} [get]
func handleGetUser(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "userID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		user, err := userSvc.GetByID(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, userViews([]*domain.User{user})[0])
	}
}

// @Summary      Update profile
// @Description  Replace the current user's name, status and profile picture
// @Tags         users
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body service.UpdateProfileInput true "Profile"
// @Success      200  {object}  service.UserView
// @Failure      400  {object}  errorResponse
// @Router       /users/me [patch]
func handleUpdateProfile(userSvc *service.UserService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var req service.UpdateProfileInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user, err := userSvc.UpdateProfile(r.Context(), currentUser.ID, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, service.NewUserView(user))
	}
}

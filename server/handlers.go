package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/lectern-app/lectern/auth"
	"github.com/lectern-app/lectern/models"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func rejectStatus(code auth.RejectCode) int {
	switch code {
	case auth.CodeStateExpired, auth.CodeStateInvalid:
		return http.StatusBadRequest
	case auth.CodeProviderDenied:
		return http.StatusForbidden
	case auth.CodeProviderUnavailable:
		return http.StatusBadGateway
	case auth.CodeSessionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var rej *auth.RejectionError
	if errors.As(err, &rej) {
		if inner := rej.Unwrap(); inner != nil {
			srv.logger.Warn("sign-in rejected", "code", rej.Code, "err", inner)
		}
		_ = c.JSON(rejectStatus(rej.Code), errorResponse{
			Error:   string(rej.Code),
			Message: rej.Message,
		})
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if resp, ok := httpErr.Message.(map[string]string); ok {
			_ = c.JSON(httpErr.Code, resp)
			return
		}
		msg, ok := httpErr.Message.(string)
		if !ok {
			msg = http.StatusText(httpErr.Code)
		}
		_ = c.JSON(httpErr.Code, errorResponse{Error: "request_failed", Message: msg})
		return
	}

	srv.logger.Error("unhandled request error", "err", err, "path", c.Path())
	_ = c.JSON(http.StatusInternalServerError, errorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred.",
	})
}

type userView struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	DisplayName    *string   `json:"displayName,omitempty"`
	ProfilePicture *string   `json:"profilePicture,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastSignInAt   time.Time `json:"lastSignInAt"`
}

func viewUser(u *models.User) userView {
	return userView{
		ID:             u.ID,
		Email:          u.Email,
		DisplayName:    u.DisplayName,
		ProfilePicture: u.ProfilePicture,
		CreatedAt:      u.CreatedAt,
		LastSignInAt:   u.LastSignInAt,
	}
}

type initiateRequest struct {
	RedirectURI string `json:"redirectUri"`
}

func (srv *Server) HandleInitiate(c echo.Context) error {
	var req initiateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := srv.auth.Initiate(c.Request().Context(), req.RedirectURI)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type callbackRequest struct {
	Code             string `json:"code"`
	State            string `json:"state"`
	Error            string `json:"error"`
	ErrorDescription string `json:"errorDescription"`
}

type sessionView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type callbackResponse struct {
	User        userView    `json:"user"`
	Session     sessionView `json:"session"`
	IsNewUser   bool        `json:"isNewUser"`
	RedirectURI string      `json:"redirectUri,omitempty"`
}

func (srv *Server) HandleCallback(c echo.Context) error {
	var req callbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Error == "" && (req.Code == "" || req.State == "") {
		return echo.NewHTTPError(http.StatusBadRequest, "code and state are required")
	}

	res, err := srv.auth.HandleCallback(c.Request().Context(), auth.CallbackInput{
		Code:             req.Code,
		State:            req.State,
		Error:            req.Error,
		ErrorDescription: req.ErrorDescription,
		UserAgent:        c.Request().UserAgent(),
		IPAddress:        c.RealIP(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, callbackResponse{
		User: viewUser(res.User),
		Session: sessionView{
			Token:     res.SessionToken,
			ExpiresAt: res.SessionExpiresAt,
		},
		IsNewUser:   res.IsNewUser,
		RedirectURI: res.RedirectURI,
	})
}

func (srv *Server) HandleRefresh(c echo.Context) error {
	sess := currentSession(c)
	newExpiry, err := srv.auth.Refresh(c.Request().Context(), sess.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"expiresAt": newExpiry})
}

type signOutRequest struct {
	AllSessions bool `json:"allSessions"`
}

func (srv *Server) HandleSignOut(c echo.Context) error {
	var req signOutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess := currentSession(c)
	count, err := srv.auth.SignOut(c.Request().Context(), sess.UserID, sess.ID, req.AllSessions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"terminatedSessions": count})
}

func (srv *Server) HandleProfile(c echo.Context) error {
	user, err := srv.auth.Profile(c.Request().Context(), currentUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewUser(user))
}

type sessionListEntry struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	UserAgent      *string   `json:"userAgent,omitempty"`
	IsCurrent      bool      `json:"isCurrent"`
}

func (srv *Server) HandleSessions(c echo.Context) error {
	sess := currentSession(c)
	sessions, err := srv.auth.Sessions(c.Request().Context(), sess.UserID)
	if err != nil {
		return err
	}
	out := make([]sessionListEntry, len(sessions))
	for i, s := range sessions {
		out[i] = sessionListEntry{
			ID:             s.ID,
			CreatedAt:      s.CreatedAt,
			ExpiresAt:      s.ExpiresAt,
			LastActivityAt: s.LastActivityAt,
			UserAgent:      s.UserAgent,
			IsCurrent:      s.ID == sess.ID,
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": out})
}

type bookmarkView struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     *string   `json:"title,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func viewBookmark(b *models.Bookmark) bookmarkView {
	return bookmarkView{ID: b.ID, URL: b.URL, Title: b.Title, CreatedAt: b.CreatedAt}
}

type createBookmarkRequest struct {
	URL   string  `json:"url"`
	Title *string `json:"title"`
}

func (srv *Server) HandleCreateBookmark(c echo.Context) error {
	var req createBookmarkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}

	bm := models.Bookmark{
		ID:        uuid.NewString(),
		UserID:    currentUserID(c),
		URL:       req.URL,
		Title:     req.Title,
		CreatedAt: time.Now(),
	}
	err := srv.db.WithContext(c.Request().Context()).Create(&bm).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return echo.NewHTTPError(http.StatusConflict, "bookmark already exists")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, viewBookmark(&bm))
}

func (srv *Server) HandleListBookmarks(c echo.Context) error {
	var bookmarks []models.Bookmark
	err := srv.db.WithContext(c.Request().Context()).
		Where("user_id = ?", currentUserID(c)).
		Order("created_at desc").
		Find(&bookmarks).Error
	if err != nil {
		return err
	}
	out := make([]bookmarkView, len(bookmarks))
	for i := range bookmarks {
		out[i] = viewBookmark(&bookmarks[i])
	}
	return c.JSON(http.StatusOK, map[string]any{"bookmarks": out})
}

func (srv *Server) HandleDeleteBookmark(c echo.Context) error {
	res := srv.db.WithContext(c.Request().Context()).
		Delete(&models.Bookmark{}, "id = ? AND user_id = ?", c.Param("id"), currentUserID(c))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "bookmark not found")
	}
	return c.NoContent(http.StatusNoContent)
}

type feedView struct {
	ID            string     `json:"id"`
	FeedURL       string     `json:"feedUrl"`
	Title         *string    `json:"title,omitempty"`
	Description   *string    `json:"description,omitempty"`
	SiteURL       *string    `json:"siteUrl,omitempty"`
	LastFetchedAt *time.Time `json:"lastFetchedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func viewFeed(f *models.Feed) feedView {
	return feedView{
		ID:            f.ID,
		FeedURL:       f.FeedURL,
		Title:         f.Title,
		Description:   f.Description,
		SiteURL:       f.SiteURL,
		LastFetchedAt: f.LastFetchedAt,
		CreatedAt:     f.CreatedAt,
	}
}

type subscribeFeedRequest struct {
	FeedURL string  `json:"feedUrl"`
	Title   *string `json:"title"`
}

func (srv *Server) HandleSubscribeFeed(c echo.Context) error {
	var req subscribeFeedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.FeedURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "feedUrl is required")
	}

	now := time.Now()
	feed := models.Feed{
		ID:        uuid.NewString(),
		UserID:    currentUserID(c),
		FeedURL:   req.FeedURL,
		Title:     req.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := srv.db.WithContext(c.Request().Context()).Create(&feed).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return echo.NewHTTPError(http.StatusConflict, "feed already subscribed")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, viewFeed(&feed))
}

func (srv *Server) HandleListFeeds(c echo.Context) error {
	var feeds []models.Feed
	err := srv.db.WithContext(c.Request().Context()).
		Where("user_id = ?", currentUserID(c)).
		Order("created_at desc").
		Find(&feeds).Error
	if err != nil {
		return err
	}
	out := make([]feedView, len(feeds))
	for i := range feeds {
		out[i] = viewFeed(&feeds[i])
	}
	return c.JSON(http.StatusOK, map[string]any{"feeds": out})
}

func (srv *Server) HandleUnsubscribeFeed(c echo.Context) error {
	res := srv.db.WithContext(c.Request().Context()).
		Delete(&models.Feed{}, "id = ? AND user_id = ?", c.Param("id"), currentUserID(c))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "feed not found")
	}
	return c.NoContent(http.StatusNoContent)
}

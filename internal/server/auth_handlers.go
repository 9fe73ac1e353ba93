package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	loginPath             = "/login"
	workerDashboardPath   = "/worker/dashboard"
	employerDashboardPath = "/employer/dashboard"
)

type signUpPayload struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Username    string `json:"username"`
	AccountType string `json:"accountType"`
	Birthdate   string `json:"birthdate"`
}

type signInPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionPayload struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Profile   users.Profile `json:"profile"`
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request signUpPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	birthdate, err := users.ParseBirthdate(request.Birthdate)
	if err != nil {
		h.respondError(c, apperr.Invalid("auth.sign_up", "birthdate", err))
		return
	}
	account, err := h.credentials.SignUp(c.Request.Context(), auth.SignUpRequest{
		Email:       request.Email,
		Password:    request.Password,
		DisplayName: request.DisplayName,
		Username:    request.Username,
		AccountType: request.AccountType,
		Birthdate:   birthdate,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.startSession(c, http.StatusCreated, account)
}

func (h *httpHandler) handleSignIn(c *gin.Context) {
	var request signInPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	account, err := h.credentials.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.startSession(c, http.StatusOK, account)
}

func (h *httpHandler) startSession(c *gin.Context, status int, account auth.Account) {
	profile, err := h.users.GetProfile(c.Request.Context(), account.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	token, expiresAt, err := h.tokens.IssueSessionToken(c.Request.Context(), auth.SessionIdentity{
		UserID:      account.ID,
		Email:       account.Email,
		DisplayName: profile.DisplayName,
		AccountType: string(profile.AccountType),
	})
	if err != nil {
		h.respondError(c, apperr.New("auth", "token_issue_failed", apperr.KindInternal, err))
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), token, int(time.Until(expiresAt).Seconds()), "/", "", h.secureCookies, true)
	c.JSON(status, sessionPayload{Token: token, ExpiresAt: expiresAt, Profile: profile})
}

func (h *httpHandler) handleSignOut(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.secureCookies, true)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleBlockedEmail(c *gin.Context) {
	status, err := h.users.CheckEmailBlocked(c.Request.Context(), c.Query("email"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// pageProfile resolves the session of a page request. Pages redirect
// instead of answering 401.
func (h *httpHandler) pageProfile(c *gin.Context) (users.Profile, bool) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		return users.Profile{}, false
	}
	profile, err := h.users.EnsureProfile(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("page session rejected", zap.Error(err))
		return users.Profile{}, false
	}
	return profile, true
}

func dashboardPath(profile users.Profile) string {
	if profile.AccountType == users.AccountTypeEmployer {
		return employerDashboardPath
	}
	return workerDashboardPath
}

func (h *httpHandler) handleIndexPage(c *gin.Context) {
	profile, ok := h.pageProfile(c)
	if !ok {
		c.Redirect(http.StatusFound, loginPath)
		return
	}
	c.Redirect(http.StatusFound, dashboardPath(profile))
}

func (h *httpHandler) handleLoginPage(c *gin.Context) {
	if profile, ok := h.pageProfile(c); ok {
		c.Redirect(http.StatusFound, dashboardPath(profile))
		return
	}
	c.JSON(http.StatusOK, gin.H{"page": "login"})
}

func (h *httpHandler) handleWorkerDashboard(c *gin.Context) {
	profile, ok := h.pageProfile(c)
	if !ok {
		c.Redirect(http.StatusFound, loginPath)
		return
	}
	if profile.AccountType != users.AccountTypeWorker {
		c.Redirect(http.StatusFound, dashboardPath(profile))
		return
	}
	ctx := c.Request.Context()
	postings, err := h.jobs.ListPostings(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	applications, err := h.jobs.ListMyApplications(ctx, profile.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	servers, err := h.chat.ListServers(ctx, profile.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"page":         "worker_dashboard",
		"profile":      profile,
		"postings":     h.translator.TranslatePostings(ctx, postings, languageOf(c)),
		"applications": applications,
		"servers":      servers,
	})
}

func (h *httpHandler) handleEmployerDashboard(c *gin.Context) {
	profile, ok := h.pageProfile(c)
	if !ok {
		c.Redirect(http.StatusFound, loginPath)
		return
	}
	if profile.AccountType != users.AccountTypeEmployer {
		c.Redirect(http.StatusFound, dashboardPath(profile))
		return
	}
	ctx := c.Request.Context()
	postings, err := h.jobs.ListMyPostings(ctx, profile.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	servers, err := h.chat.ListServers(ctx, profile.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"page":     "employer_dashboard",
		"profile":  profile,
		"postings": postings,
		"servers":  servers,
	})
}

// languageOf picks the posting language from ?lang, defaulting to the
// language postings are written in.
func languageOf(c *gin.Context) string {
	if lang := c.Query("lang"); lang != "" {
		return lang
	}
	return jobs.LanguageSpanish
}

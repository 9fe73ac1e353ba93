package server

import (
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/users"
)

func TestSignUpIssuesSessionCookie(t *testing.T) {
	env := newTestEnvironment(t)

	response := env.request(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":       "Ana@Alias.test",
		"password":    "correct-horse",
		"displayName": "Ana",
		"username":    "ana",
		"accountType": "worker",
		"birthdate":   "1994-02-01",
	})
	defer response.Body.Close()
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, response.StatusCode)
	}
	var sessionCookie *http.Cookie
	for _, cookie := range response.Cookies() {
		if cookie.Name == testCookieName {
			sessionCookie = cookie
		}
	}
	if sessionCookie == nil || sessionCookie.Value == "" {
		t.Fatalf("expected session cookie, got %v", response.Cookies())
	}
	if !sessionCookie.HttpOnly {
		t.Fatalf("expected http-only session cookie")
	}

	var signedIn testSession
	env.call(t, http.MethodPost, "/auth/signin", "", map[string]string{
		"email":    "ana@alias.test",
		"password": "correct-horse",
	}, http.StatusOK, &signedIn)
	if signedIn.Profile.Username != "ana" || signedIn.Profile.AccountType != users.AccountTypeWorker {
		t.Fatalf("unexpected profile: %#v", signedIn.Profile)
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	env := newTestEnvironment(t)
	env.signUp(t, "bruno", "worker")

	var body map[string]string
	env.call(t, http.MethodPost, "/auth/signin", "", map[string]string{
		"email":    "bruno@alias.test",
		"password": "wrong-password",
	}, http.StatusUnauthorized, &body)
	if body["code"] != "auth.sign_in.invalid_credentials" {
		t.Fatalf("unexpected error code: %v", body)
	}
}

func TestUnderageSignUpBlocksEmail(t *testing.T) {
	env := newTestEnvironment(t)

	var body map[string]string
	env.call(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":       "kid@alias.test",
		"password":    "correct-horse",
		"displayName": "Kid",
		"username":    "kid",
		"birthdate":   "2015-06-01",
	}, http.StatusForbidden, &body)
	if body["code"] != "auth.sign_up.underage" {
		t.Fatalf("unexpected error code: %v", body)
	}

	var status users.BlockStatus
	env.call(t, http.MethodGet, "/auth/blocked?email=kid@alias.test", "", nil, http.StatusOK, &status)
	if !status.IsBlocked || status.CanRegisterAt == nil {
		t.Fatalf("expected blocked email with registration date, got %#v", status)
	}
}

func TestSignUpRejectsMalformedBirthdate(t *testing.T) {
	env := newTestEnvironment(t)

	var body map[string]string
	env.call(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":       "late@alias.test",
		"password":    "correct-horse",
		"displayName": "Late",
		"username":    "late",
		"birthdate":   "12/04/1990",
	}, http.StatusBadRequest, &body)
	if body["field"] != "birthdate" || body["code"] != "auth.sign_up.invalid_birthdate" || body["error"] != "validation" {
		t.Fatalf("expected birthdate validation error, got %v", body)
	}
}

func TestPagesRedirectByAccountType(t *testing.T) {
	env := newTestEnvironment(t)
	worker := env.signUp(t, "carla", "worker")
	employer := env.signUp(t, "dario", "employer")

	testCases := []struct {
		name     string
		path     string
		token    string
		location string
	}{
		{name: "index without session", path: "/", location: "/login"},
		{name: "dashboard without session", path: "/worker/dashboard", location: "/login"},
		{name: "index as worker", path: "/", token: worker.Token, location: "/worker/dashboard"},
		{name: "index as employer", path: "/", token: employer.Token, location: "/employer/dashboard"},
		{name: "login with session", path: "/login", token: worker.Token, location: "/worker/dashboard"},
		{name: "worker on employer dashboard", path: "/employer/dashboard", token: worker.Token, location: "/worker/dashboard"},
		{name: "employer on worker dashboard", path: "/worker/dashboard", token: employer.Token, location: "/employer/dashboard"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			response := env.request(t, http.MethodGet, testCase.path, testCase.token, nil)
			_ = response.Body.Close()
			if response.StatusCode != http.StatusFound {
				t.Fatalf("expected status %d, got %d", http.StatusFound, response.StatusCode)
			}
			if location := response.Header.Get("Location"); location != testCase.location {
				t.Fatalf("expected redirect to %s, got %s", testCase.location, location)
			}
		})
	}

	var page map[string]any
	env.call(t, http.MethodGet, "/worker/dashboard", worker.Token, nil, http.StatusOK, &page)
	if page["page"] != "worker_dashboard" {
		t.Fatalf("unexpected dashboard bootstrap: %v", page)
	}
	env.call(t, http.MethodGet, "/login", "", nil, http.StatusOK, &page)
	if page["page"] != "login" {
		t.Fatalf("unexpected login page: %v", page)
	}
}

package server

import (
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/jobs"
)

func TestJobBoardApplicationFlow(t *testing.T) {
	env := newTestEnvironment(t)
	employer := env.signUp(t, "valeria", "employer")
	firstWorker := env.signUp(t, "walter", "worker")
	secondWorker := env.signUp(t, "ximena", "worker")

	var posting jobs.JobPosting
	env.call(t, http.MethodPost, "/api/jobs", employer.Token, map[string]any{
		"title":         "Recolector de fresas",
		"description":   "Cosecha de temporada",
		"workersNeeded": 1,
	}, http.StatusCreated, &posting)
	if posting.Status != jobs.StatusActive || posting.EmployerID != employer.Profile.ID {
		t.Fatalf("unexpected posting: %#v", posting)
	}

	var application jobs.JobApplication
	env.call(t, http.MethodPost, "/api/jobs/"+posting.ID+"/apply", firstWorker.Token, nil, http.StatusCreated, &application)
	if application.WorkerID != firstWorker.Profile.ID {
		t.Fatalf("unexpected application: %#v", application)
	}

	var body map[string]string
	env.call(t, http.MethodPost, "/api/jobs/"+posting.ID+"/apply", firstWorker.Token, nil, http.StatusConflict, &body)
	if body["code"] != "jobs.apply.already_applied" {
		t.Fatalf("unexpected duplicate code: %v", body)
	}
	env.call(t, http.MethodPost, "/api/jobs/"+posting.ID+"/apply", secondWorker.Token, nil, http.StatusConflict, &body)
	if body["code"] != "jobs.apply.capacity_reached" {
		t.Fatalf("unexpected capacity code: %v", body)
	}

	var applied map[string]bool
	env.call(t, http.MethodGet, "/api/jobs/"+posting.ID+"/applied", firstWorker.Token, nil, http.StatusOK, &applied)
	if !applied["applied"] {
		t.Fatalf("expected first worker to have applied")
	}

	var applicants []jobs.Applicant
	env.call(t, http.MethodGet, "/api/jobs/"+posting.ID+"/applicants", employer.Token, nil, http.StatusOK, &applicants)
	if len(applicants) != 1 || applicants[0].WorkerUsername != "walter" {
		t.Fatalf("unexpected applicants: %#v", applicants)
	}

	var listed []jobs.PostingWithCount
	env.call(t, http.MethodGet, "/api/jobs", secondWorker.Token, nil, http.StatusOK, &listed)
	if len(listed) != 1 || listed[0].ApplicationCount != 1 {
		t.Fatalf("unexpected listing: %#v", listed)
	}

	env.call(t, http.MethodDelete, "/api/jobs/"+posting.ID+"/apply", firstWorker.Token, nil, http.StatusOK, nil)
	env.call(t, http.MethodPost, "/api/jobs/"+posting.ID+"/apply", secondWorker.Token, nil, http.StatusCreated, nil)
}

func TestJobRoutesEnforceAccountType(t *testing.T) {
	env := newTestEnvironment(t)
	employer := env.signUp(t, "yago", "employer")
	worker := env.signUp(t, "zoe", "worker")

	var body map[string]string
	env.call(t, http.MethodPost, "/api/jobs", worker.Token, map[string]any{
		"title":         "Not allowed",
		"description":   "Workers cannot post",
		"workersNeeded": 1,
	}, http.StatusForbidden, &body)
	if body["code"] != "jobs.authorize.wrong_account_type" {
		t.Fatalf("unexpected error code: %v", body)
	}

	var posting jobs.JobPosting
	env.call(t, http.MethodPost, "/api/jobs", employer.Token, map[string]any{
		"title":         "Empacador",
		"description":   "Turno de noche",
		"workersNeeded": 2,
	}, http.StatusCreated, &posting)
	env.call(t, http.MethodPost, "/api/jobs/"+posting.ID+"/apply", employer.Token, nil, http.StatusForbidden, nil)
	env.call(t, http.MethodGet, "/api/applications", employer.Token, nil, http.StatusForbidden, nil)
}

func TestWorkerHistoryRoutes(t *testing.T) {
	env := newTestEnvironment(t)
	worker := env.signUp(t, "alba", "worker")

	var entry jobs.WorkerJobHistory
	env.call(t, http.MethodPost, "/api/history", worker.Token, map[string]any{
		"employer":  "Finca del Sol",
		"position":  "Recolectora",
		"startDate": "2023-05-01T00:00:00Z",
	}, http.StatusCreated, &entry)

	env.call(t, http.MethodPatch, "/api/history/"+entry.ID, worker.Token, map[string]any{
		"position": "Supervisora",
	}, http.StatusOK, &entry)
	if entry.Position != "Supervisora" {
		t.Fatalf("unexpected position: %s", entry.Position)
	}

	var history []jobs.WorkerJobHistory
	env.call(t, http.MethodGet, "/api/history", worker.Token, nil, http.StatusOK, &history)
	if len(history) != 1 {
		t.Fatalf("expected one entry, got %d", len(history))
	}
	env.call(t, http.MethodDelete, "/api/history/"+entry.ID, worker.Token, nil, http.StatusNoContent, nil)
}

func TestWorkerDirectoryRoutes(t *testing.T) {
	env := newTestEnvironment(t)
	employer := env.signUp(t, "bea", "employer")

	var worker jobs.Worker
	env.call(t, http.MethodPost, "/api/workers", employer.Token, map[string]any{
		"firstName": "Carmen",
		"lastName":  "Ruiz",
	}, http.StatusCreated, &worker)

	env.call(t, http.MethodPost, "/api/workers/"+worker.ID+"/skills", employer.Token, map[string]any{
		"skillName": "Tractor",
	}, http.StatusCreated, nil)

	var loaded jobs.Worker
	env.call(t, http.MethodGet, "/api/workers/"+worker.ID, employer.Token, nil, http.StatusOK, &loaded)
	if len(loaded.Skills) != 1 || loaded.Skills[0].SkillName != "Tractor" {
		t.Fatalf("unexpected skills: %#v", loaded.Skills)
	}

	env.call(t, http.MethodDelete, "/api/workers/"+worker.ID, employer.Token, nil, http.StatusNoContent, nil)
	env.call(t, http.MethodGet, "/api/workers/"+worker.ID, employer.Token, nil, http.StatusNotFound, nil)
}

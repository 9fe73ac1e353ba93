package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/jobs"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/users"
	"github.com/gin-gonic/gin"
)

var errWrongAccountType = errors.New("account type may not perform this action")

func (h *httpHandler) registerJobRoutes(api *gin.RouterGroup) {
	employer := h.requireAccountType(users.AccountTypeEmployer)
	worker := h.requireAccountType(users.AccountTypeWorker)

	api.GET("/jobs", h.handleListPostings)
	api.GET("/jobs/mine", employer, h.handleListMyPostings)
	api.POST("/jobs", employer, h.handleCreatePosting)
	api.GET("/jobs/:jobID", h.handleGetPosting)
	api.PATCH("/jobs/:jobID", employer, h.handleUpdatePosting)
	api.DELETE("/jobs/:jobID", employer, h.handleDeletePosting)
	api.POST("/jobs/:jobID/apply", worker, h.handleApplyToJob)
	api.DELETE("/jobs/:jobID/apply", worker, h.handleWithdrawApplication)
	api.GET("/jobs/:jobID/applied", worker, h.handleHasApplied)
	api.GET("/jobs/:jobID/applications", employer, h.handleListJobApplications)
	api.GET("/jobs/:jobID/applicants", employer, h.handleListApplicants)

	api.GET("/applications", worker, h.handleListMyApplications)

	api.GET("/history", worker, h.handleListMyHistory)
	api.POST("/history", worker, h.handleAddHistory)
	api.PATCH("/history/:entryID", worker, h.handleUpdateHistory)
	api.DELETE("/history/:entryID", worker, h.handleDeleteHistory)

	api.GET("/workers", h.handleListWorkers)
	api.POST("/workers", h.handleCreateWorker)
	api.GET("/workers/:workerID", h.handleGetWorker)
	api.PUT("/workers/:workerID", h.handleUpdateWorker)
	api.DELETE("/workers/:workerID", h.handleDeleteWorker)
	api.POST("/workers/:workerID/history", h.handleAddWorkHistory)
	api.PUT("/workers/:workerID/history/:recordID", h.handleUpdateWorkHistory)
	api.DELETE("/workers/:workerID/history/:recordID", h.handleDeleteWorkHistory)
	api.POST("/workers/:workerID/skills", h.handleAddSkill)
	api.PUT("/workers/:workerID/skills/:skillID", h.handleUpdateSkill)
	api.DELETE("/workers/:workerID/skills/:skillID", h.handleDeleteSkill)
	api.POST("/workers/:workerID/documents", h.handleAddDocument)
	api.DELETE("/workers/:workerID/documents/:documentID", h.handleDeleteDocument)
}

// requireAccountType stops requests from profiles of any other account type.
func (h *httpHandler) requireAccountType(accountType users.AccountType) gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentProfile(c).AccountType != accountType {
			h.respondError(c, apperr.New("jobs.authorize", "wrong_account_type", apperr.KindForbidden, errWrongAccountType))
			return
		}
		c.Next()
	}
}

func (h *httpHandler) handleListPostings(c *gin.Context) {
	ctx := c.Request.Context()
	postings, err := h.jobs.ListPostings(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.translator.TranslatePostings(ctx, postings, languageOf(c)))
}

func (h *httpHandler) handleListMyPostings(c *gin.Context) {
	postings, err := h.jobs.ListMyPostings(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, postings)
}

func (h *httpHandler) handleGetPosting(c *gin.Context) {
	posting, err := h.jobs.GetPosting(c.Request.Context(), c.Param("jobID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posting)
}

func (h *httpHandler) handleCreatePosting(c *gin.Context) {
	var request jobs.NewPosting
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	posting, err := h.jobs.CreatePosting(c.Request.Context(), currentUserID(c), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, posting)
}

func (h *httpHandler) handleUpdatePosting(c *gin.Context) {
	var request jobs.PostingUpdate
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	posting, err := h.jobs.UpdatePosting(c.Request.Context(), currentUserID(c), c.Param("jobID"), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, posting)
}

func (h *httpHandler) handleDeletePosting(c *gin.Context) {
	if err := h.jobs.DeletePosting(c.Request.Context(), currentUserID(c), c.Param("jobID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleApplyToJob(c *gin.Context) {
	application, err := h.jobs.ApplyToJob(c.Request.Context(), currentUserID(c), c.Param("jobID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, application)
}

func (h *httpHandler) handleWithdrawApplication(c *gin.Context) {
	application, err := h.jobs.WithdrawApplication(c.Request.Context(), currentUserID(c), c.Param("jobID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, application)
}

func (h *httpHandler) handleHasApplied(c *gin.Context) {
	applied, err := h.jobs.HasApplied(c.Request.Context(), currentUserID(c), c.Param("jobID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

func (h *httpHandler) handleListJobApplications(c *gin.Context) {
	applications, err := h.jobs.ListJobApplications(c.Request.Context(), currentUserID(c), c.Param("jobID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, applications)
}

func (h *httpHandler) handleListApplicants(c *gin.Context) {
	applicants, err := h.jobs.ListApplicationsWithWorkers(c.Request.Context(), currentUserID(c), c.Param("jobID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, applicants)
}

func (h *httpHandler) handleListMyApplications(c *gin.Context) {
	applications, err := h.jobs.ListMyApplications(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, applications)
}

func (h *httpHandler) handleListMyHistory(c *gin.Context) {
	history, err := h.jobs.ListMyHistory(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *httpHandler) handleAddHistory(c *gin.Context) {
	var request jobs.HistoryEntry
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	entry, err := h.jobs.AddHistory(c.Request.Context(), currentUserID(c), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *httpHandler) handleUpdateHistory(c *gin.Context) {
	var request jobs.HistoryUpdate
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	entry, err := h.jobs.UpdateHistory(c.Request.Context(), currentUserID(c), c.Param("entryID"), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *httpHandler) handleDeleteHistory(c *gin.Context) {
	if err := h.jobs.DeleteHistory(c.Request.Context(), currentUserID(c), c.Param("entryID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListWorkers(c *gin.Context) {
	workers, err := h.jobs.ListWorkers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, workers)
}

func (h *httpHandler) handleGetWorker(c *gin.Context) {
	worker, err := h.jobs.GetWorker(c.Request.Context(), c.Param("workerID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

func (h *httpHandler) handleCreateWorker(c *gin.Context) {
	var request jobs.WorkerInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	worker, err := h.jobs.CreateWorker(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, worker)
}

func (h *httpHandler) handleUpdateWorker(c *gin.Context) {
	var request jobs.WorkerInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	worker, err := h.jobs.UpdateWorker(c.Request.Context(), c.Param("workerID"), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, worker)
}

func (h *httpHandler) handleDeleteWorker(c *gin.Context) {
	if err := h.jobs.DeleteWorker(c.Request.Context(), c.Param("workerID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddWorkHistory(c *gin.Context) {
	var request jobs.WorkHistoryInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	request.WorkerID = c.Param("workerID")
	record, err := h.jobs.AddWorkHistory(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *httpHandler) handleUpdateWorkHistory(c *gin.Context) {
	var request jobs.WorkHistoryInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	request.WorkerID = c.Param("workerID")
	if err := h.jobs.UpdateWorkHistory(c.Request.Context(), c.Param("recordID"), request); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteWorkHistory(c *gin.Context) {
	if err := h.jobs.DeleteWorkHistory(c.Request.Context(), c.Param("recordID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddSkill(c *gin.Context) {
	var request jobs.SkillInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	request.WorkerID = c.Param("workerID")
	skill, err := h.jobs.AddSkill(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, skill)
}

func (h *httpHandler) handleUpdateSkill(c *gin.Context) {
	var request jobs.SkillInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	request.WorkerID = c.Param("workerID")
	if err := h.jobs.UpdateSkill(c.Request.Context(), c.Param("skillID"), request); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeleteSkill(c *gin.Context) {
	if err := h.jobs.DeleteSkill(c.Request.Context(), c.Param("skillID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddDocument(c *gin.Context) {
	var request jobs.DocumentInput
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	request.WorkerID = c.Param("workerID")
	document, err := h.jobs.AddDocument(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, document)
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	if err := h.jobs.DeleteDocument(c.Request.Context(), c.Param("documentID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/apperr"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/alias/backend/internal/realtime"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type namePayload struct {
	Name string `json:"name"`
}

type imagePayload struct {
	ImageURL string `json:"imageUrl"`
}

type displayNamePayload struct {
	DisplayName string `json:"displayName"`
}

type avatarPayload struct {
	AvatarURL string `json:"avatarUrl"`
}

type userStatusPayload struct {
	UserID   string `json:"userId"`
	ServerID string `json:"serverId,omitempty"`
	Action   string `json:"action"`
}

func (h *httpHandler) registerChatRoutes(api *gin.RouterGroup) {
	api.GET("/servers", h.handleListServers)
	api.POST("/servers", h.handleCreateServer)
	api.GET("/servers/:serverID", h.handleGetServer)
	api.PATCH("/servers/:serverID", h.handleEditServer)
	api.DELETE("/servers/:serverID", h.handleDeleteServer)
	api.PUT("/servers/:serverID/image", h.handleChangeServerImage)
	api.POST("/servers/:serverID/join", h.handleJoinServer)
	api.POST("/servers/:serverID/leave", h.handleLeaveServer)
	api.GET("/servers/:serverID/members", h.handleServerMembers)
	api.GET("/servers/:serverID/channels", h.handleListChannels)
	api.POST("/servers/:serverID/channels", h.handleCreateChannel)

	api.GET("/channels/:channelID", h.handleGetChannel)
	api.PATCH("/channels/:channelID", h.handleEditChannel)
	api.DELETE("/channels/:channelID", h.handleDeleteChannel)
	api.GET("/channels/:channelID/messages", h.handleListMessages)
	api.GET("/channels/:channelID/summary", h.handleSummarizeChannel)

	api.POST("/messages", h.handleSendMessage)
	api.PATCH("/messages/:messageID", h.handleEditMessage)
	api.DELETE("/messages/:messageID", h.handleDeleteMessage)
	api.POST("/messages/:messageID/reactions", h.handleAddReaction)
	api.DELETE("/messages/:messageID/reactions", h.handleRemoveReaction)

	api.GET("/profiles/me", h.handleMyProfile)
	api.PATCH("/profiles/me", h.handleChangeDisplayName)
	api.PUT("/profiles/me/avatar", h.handleChangeAvatar)
	api.GET("/profiles/:userID", h.handleGetProfile)
	api.GET("/profiles", h.handleListProfiles)
}

func (h *httpHandler) handleListServers(c *gin.Context) {
	servers, err := h.chat.ListServers(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, servers)
}

func (h *httpHandler) handleCreateServer(c *gin.Context) {
	var request namePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	server, err := h.chat.CreateServer(c.Request.Context(), currentUserID(c), request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, server)
}

func (h *httpHandler) handleGetServer(c *gin.Context) {
	server, err := h.chat.GetServer(c.Request.Context(), currentUserID(c), c.Param("serverID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

func (h *httpHandler) handleEditServer(c *gin.Context) {
	var request namePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	server, err := h.chat.EditServer(c.Request.Context(), currentUserID(c), c.Param("serverID"), request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

func (h *httpHandler) handleChangeServerImage(c *gin.Context) {
	var request imagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	server, err := h.chat.ChangeServerImage(c.Request.Context(), currentUserID(c), c.Param("serverID"), request.ImageURL)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, server)
}

func (h *httpHandler) handleDeleteServer(c *gin.Context) {
	if err := h.chat.DeleteServer(c.Request.Context(), currentUserID(c), c.Param("serverID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleJoinServer(c *gin.Context) {
	userID := currentUserID(c)
	server, err := h.chat.JoinServer(c.Request.Context(), userID, c.Param("serverID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.announceUserChange(userID, userStatusPayload{UserID: userID, ServerID: server.ID, Action: "join"})
	c.JSON(http.StatusOK, server)
}

func (h *httpHandler) handleLeaveServer(c *gin.Context) {
	userID := currentUserID(c)
	serverID := c.Param("serverID")
	if err := h.chat.LeaveServer(c.Request.Context(), userID, serverID); err != nil {
		h.respondError(c, err)
		return
	}
	h.announceUserChange(userID, userStatusPayload{UserID: userID, ServerID: serverID, Action: "leave"})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleServerMembers(c *gin.Context) {
	members, err := h.chat.GetServerMembers(c.Request.Context(), currentUserID(c), c.Param("serverID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

func (h *httpHandler) handleListChannels(c *gin.Context) {
	channels, err := h.chat.ListChannels(c.Request.Context(), currentUserID(c), c.Param("serverID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channels)
}

func (h *httpHandler) handleCreateChannel(c *gin.Context) {
	var request namePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	channel, err := h.chat.CreateChannel(c.Request.Context(), currentUserID(c), c.Param("serverID"), request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, channel)
}

func (h *httpHandler) handleGetChannel(c *gin.Context) {
	channel, err := h.chat.GetChannel(c.Request.Context(), currentUserID(c), c.Param("channelID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (h *httpHandler) handleEditChannel(c *gin.Context) {
	var request namePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	channel, err := h.chat.EditChannel(c.Request.Context(), currentUserID(c), c.Param("channelID"), request.Name)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channel)
}

func (h *httpHandler) handleDeleteChannel(c *gin.Context) {
	if err := h.chat.DeleteChannel(c.Request.Context(), currentUserID(c), c.Param("channelID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	cursor := 0
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.badRequest(c, "invalid_cursor")
			return
		}
		cursor = parsed
	}
	page, err := h.chat.ListMessages(c.Request.Context(), currentUserID(c), chat.MessagePageRequest{
		ChannelID:  c.Param("channelID"),
		Cursor:     cursor,
		TextSearch: c.Query("q"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// handleSummarizeChannel streams the summary as server-sent events. The
// model call stops when the client disconnects.
func (h *httpHandler) handleSummarizeChannel(c *gin.Context) {
	ctx := c.Request.Context()
	userID := currentUserID(c)
	channelID := c.Param("channelID")
	if _, err := h.chat.RequireChannelMember(ctx, userID, channelID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	started := false
	err := h.chat.SummarizeChannel(ctx, userID, channelID, func(delta string) error {
		started = true
		c.SSEvent("delta", delta)
		c.Writer.Flush()
		return ctx.Err()
	})
	switch {
	case err == nil:
		c.SSEvent("done", "")
		c.Writer.Flush()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		h.logger.Debug("summary stream cancelled", zap.String("channel_id", channelID))
	case !started:
		h.respondError(c, err)
	default:
		h.logger.Warn("summary stream failed", zap.String("channel_id", channelID), zap.Error(err))
		c.SSEvent("error", gin.H{"error": string(apperr.KindOf(err)), "code": apperr.CodeOf(err)})
		c.Writer.Flush()
	}
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var draft chat.DraftMessage
	if err := c.ShouldBindJSON(&draft); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	userID := currentUserID(c)
	message, err := h.chat.SendMessage(c.Request.Context(), userID, draft)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishChange(realtime.TableMessages, realtime.ChangeInsert, message.ChannelID, userID, message, nil)
	c.JSON(http.StatusCreated, message)
}

func (h *httpHandler) handleEditMessage(c *gin.Context) {
	var edit chat.MessageEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	userID := currentUserID(c)
	message, err := h.chat.EditMessage(c.Request.Context(), userID, c.Param("messageID"), edit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishChange(realtime.TableMessages, realtime.ChangeUpdate, message.ChannelID, userID, message, nil)
	c.JSON(http.StatusOK, message)
}

func (h *httpHandler) handleDeleteMessage(c *gin.Context) {
	userID := currentUserID(c)
	message, err := h.chat.DeleteMessage(c.Request.Context(), userID, c.Param("messageID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishChange(realtime.TableMessages, realtime.ChangeDelete, message.ChannelID, userID, nil, message)
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddReaction(c *gin.Context) {
	var request chat.NewReaction
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	request.MessageID = c.Param("messageID")
	userID := currentUserID(c)
	reaction, err := h.chat.AddReaction(c.Request.Context(), userID, request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publishChange(realtime.TableReactions, realtime.ChangeInsert, reaction.ChannelID, userID, reaction, nil)
	c.JSON(http.StatusCreated, reaction)
}

func (h *httpHandler) handleRemoveReaction(c *gin.Context) {
	userID := currentUserID(c)
	removed, err := h.chat.RemoveReaction(c.Request.Context(), userID, chat.ReactionKey{
		ChannelID: c.Query("channelId"),
		MessageID: c.Param("messageID"),
		Emoji:     c.Query("emoji"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	for _, reaction := range removed {
		h.publishChange(realtime.TableReactions, realtime.ChangeDelete, reaction.ChannelID, userID, nil, reaction)
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMyProfile(c *gin.Context) {
	c.JSON(http.StatusOK, currentProfile(c))
}

func (h *httpHandler) handleChangeDisplayName(c *gin.Context) {
	var request displayNamePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	userID := currentUserID(c)
	profile, err := h.users.ChangeDisplayName(c.Request.Context(), userID, request.DisplayName)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.announceUserChange(userID, userStatusPayload{UserID: userID, Action: "display_name"})
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleChangeAvatar(c *gin.Context) {
	var request avatarPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.badRequest(c, "invalid_request")
		return
	}
	userID := currentUserID(c)
	profile, err := h.users.ChangeAvatar(c.Request.Context(), userID, request.AvatarURL)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.announceUserChange(userID, userStatusPayload{UserID: userID, Action: "avatar"})
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.users.GetProfile(c.Request.Context(), c.Param("userID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleListProfiles(c *gin.Context) {
	profiles, err := h.users.ListProfiles(c.Request.Context(), splitList(c.Query("ids")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

// publishChange announces a committed row change. The write already
// succeeded, so a failure here is only logged.
func (h *httpHandler) publishChange(table string, change realtime.ChangeType, channelID, actorID string, newRow, oldRow any) {
	if err := h.hub.PublishChange(table, change, channelID, actorID, newRow, oldRow); err != nil {
		h.logger.Error("failed to publish row change",
			zap.String("table", table),
			zap.String("type", string(change)),
			zap.String("channel_id", channelID),
			zap.Error(err))
	}
}

func (h *httpHandler) announceUserChange(actorID string, payload userStatusPayload) {
	if err := h.hub.Broadcast(realtime.UserChangeTopic, realtime.EventUserStatusChange, actorID, payload); err != nil {
		h.logger.Error("failed to broadcast user change", zap.String("user_id", actorID), zap.Error(err))
	}
}

package controller

import (
	"strings"

	"meddoc-assistant-be/internal/dto"
	"meddoc-assistant-be/internal/pkg/serverutils"
	"meddoc-assistant-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IAssistantController interface {
	RegisterRoutes(r fiber.Router)
	SendChat(ctx *fiber.Ctx) error
	ListSessions(ctx *fiber.Ctx) error
	ShowSession(ctx *fiber.Ctx) error
	NewConversation(ctx *fiber.Ctx) error
	DeleteSession(ctx *fiber.Ctx) error
	ClearHistory(ctx *fiber.Ctx) error
	ExportSession(ctx *fiber.Ctx) error
	ServiceStatus(ctx *fiber.Ctx) error
	Suggestions(ctx *fiber.Ctx) error
	ShowPreferences(ctx *fiber.Ctx) error
	UpdatePreferences(ctx *fiber.Ctx) error
	StorageStats(ctx *fiber.Ctx) error
}

type assistantController struct {
	assistantService service.IAssistantService
}

func NewAssistantController(assistantService service.IAssistantService) IAssistantController {
	return &assistantController{
		assistantService: assistantService,
	}
}

func (c *assistantController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/assistant/v1")
	h.Post("chat", c.SendChat)
	h.Get("sessions", c.ListSessions)
	h.Post("sessions/new", c.NewConversation)
	h.Delete("sessions", c.ClearHistory)
	h.Get("sessions/:id/export", c.ExportSession)
	h.Get("sessions/:id", c.ShowSession)
	h.Delete("sessions/:id", c.DeleteSession)
	h.Get("status", c.ServiceStatus)
	h.Get("suggestions", c.Suggestions)
	h.Get("preferences", c.ShowPreferences)
	h.Put("preferences", c.UpdatePreferences)
	h.Get("stats", c.StorageStats)
}

func (c *assistantController) SendChat(ctx *fiber.Ctx) error {
	var req dto.SendChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
	}
	if strings.TrimSpace(req.Question) == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "question is required"))
	}

	res, err := c.assistantService.SendChat(ctx.Context(), &req)
	if err != nil {
		if strings.HasPrefix(err.Error(), "invalid mode") {
			return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, err.Error()))
		}
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Chat processed", res))
}

func (c *assistantController) ListSessions(ctx *fiber.Ctx) error {
	limit := ctx.QueryInt("limit", 0)

	res, err := c.assistantService.ListSessions(ctx.Context(), limit)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Recent sessions", res))
}

func (c *assistantController) ShowSession(ctx *fiber.Ctx) error {
	id := ctx.Params("id")

	res, err := c.assistantService.GetChatHistory(ctx.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(404, "Session not found"))
		}
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Chat history", res))
}

func (c *assistantController) NewConversation(ctx *fiber.Ctx) error {
	var req dto.NewConversationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
	}

	res, err := c.assistantService.NewConversation(ctx.Context(), &req)
	if err != nil {
		if strings.HasPrefix(err.Error(), "invalid mode") {
			return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, err.Error()))
		}
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("New conversation started", res))
}

func (c *assistantController) DeleteSession(ctx *fiber.Ctx) error {
	id := ctx.Params("id")

	if err := c.assistantService.DeleteSession(ctx.Context(), id); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Session deleted", nil))
}

func (c *assistantController) ClearHistory(ctx *fiber.Ctx) error {
	if err := c.assistantService.ClearHistory(ctx.Context()); err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse[any]("Chat history cleared", nil))
}

func (c *assistantController) ExportSession(ctx *fiber.Ctx) error {
	id := ctx.Params("id")

	transcript, err := c.assistantService.ExportSession(ctx.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(404, "Session not found"))
		}
		return err
	}

	ctx.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	ctx.Set(fiber.HeaderContentDisposition, "attachment; filename=\"gesprek-"+sanitizeFilename(id)+".txt\"")
	return ctx.SendString(transcript)
}

func (c *assistantController) ServiceStatus(ctx *fiber.Ctx) error {
	res, err := c.assistantService.GetServiceStatus(ctx.Context())
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Service status", res))
}

func (c *assistantController) Suggestions(ctx *fiber.Ctx) error {
	mode := ctx.Query("mode", "database")
	var names []string
	if raw := ctx.Query("names"); raw != "" {
		for _, n := range strings.Split(raw, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}

	res, err := c.assistantService.GetSuggestions(ctx.Context(), mode, names)
	if err != nil {
		if strings.HasPrefix(err.Error(), "invalid mode") {
			return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, err.Error()))
		}
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Suggestions", res))
}

func (c *assistantController) ShowPreferences(ctx *fiber.Ctx) error {
	res, err := c.assistantService.GetPreferences(ctx.Context())
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Preferences", res))
}

func (c *assistantController) UpdatePreferences(ctx *fiber.Ctx) error {
	var req dto.UpdatePreferencesRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Invalid request body"))
	}

	res, err := c.assistantService.UpdatePreferences(ctx.Context(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Preferences updated", res))
}

func (c *assistantController) StorageStats(ctx *fiber.Ctx) error {
	res, err := c.assistantService.GetStorageStats(ctx.Context())
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Storage stats", res))
}

// sanitizeFilename keeps the exported filename header safe for session ids
// that contain colons.
func sanitizeFilename(id string) string {
	replacer := strings.NewReplacer(":", "-", "\"", "", "/", "-", "\\", "-")
	s := replacer.Replace(id)
	if len(s) > 64 {
		s = s[:64]
	}
	if s == "" {
		s = "sessie"
	}
	return s
}

package controller

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"lwie/middleware"
	"lwie/models"
	"lwie/services"
	"lwie/utils"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,mailbox"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"omitempty,max=100"`
	Phone    string `json:"phone" validate:"omitempty,max=20"`
	Location string `json:"location" validate:"omitempty,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,mailbox"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Success     bool                  `json:"success"`
	AccessToken string                `json:"access_token"`
	User        *models.User          `json:"user"`
	Quota       *services.QuotaStatus `json:"quota,omitempty"`
}

type AuthController struct {
	db        *gorm.DB
	quota     *services.QuotaService
	jwtSecret string
	logger    logrus.FieldLogger
}

func NewAuthController(db *gorm.DB, quota *services.QuotaService, jwtSecret string, logger logrus.FieldLogger) *AuthController {
	return &AuthController{
		db:        db,
		quota:     quota,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := utils.ValidateStruct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	var existing models.User
	if err := ac.db.WithContext(c.UserContext()).Where("email = ?", req.Email).First(&existing).Error; err == nil {
		return errorResponse(c, fiber.StatusConflict, "Email already registered")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to hash password")
	}

	user := models.User{
		Email:        req.Email,
		PasswordHash: string(hashedPassword),
		Location:     req.Location,
		IsActive:     true,
	}
	if req.Name != "" {
		user.Name = &req.Name
	}
	if req.Phone != "" {
		user.Phone = &req.Phone
	}

	if err := ac.db.WithContext(c.UserContext()).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return errorResponse(c, fiber.StatusConflict, "Email already registered")
		}
		utils.LogError("user_create_failed", err, map[string]interface{}{"email": req.Email})
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to create user")
	}

	// New accounts start with the free allowance
	quota, err := ac.quota.GetStatus(c.UserContext(), user.ID)
	if err != nil {
		utils.LogError("quota_init_failed", err, map[string]interface{}{"user_id": user.ID})
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to create user")
	}

	accessToken, err := utils.GenerateJWTToken(&user, ac.jwtSecret)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to generate token")
	}

	ac.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"email":   user.Email,
	}).Info("User registered")

	return c.Status(fiber.StatusCreated).JSON(AuthResponse{
		Success:     true,
		AccessToken: accessToken,
		User:        &user,
		Quota:       &quota,
	})
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if err := utils.ValidateStruct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	var user models.User
	if err := ac.db.WithContext(c.UserContext()).Where("email = ?", req.Email).First(&user).Error; err != nil {
		return errorResponse(c, fiber.StatusUnauthorized, "Invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return errorResponse(c, fiber.StatusUnauthorized, "Invalid email or password")
	}

	if !user.IsActive {
		return errorResponse(c, fiber.StatusForbidden, "Account is not active")
	}

	accessToken, err := utils.GenerateJWTToken(&user, ac.jwtSecret)
	if err != nil {
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to generate token")
	}

	return c.JSON(AuthResponse{
		Success:     true,
		AccessToken: accessToken,
		User:        &user,
	})
}

// Me returns the authenticated account with its quota.
func (ac *AuthController) Me(c *fiber.Ctx) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Authorization required")
	}

	quota, err := ac.quota.GetStatus(c.UserContext(), user.ID)
	if err != nil {
		return serviceError(c, err, "quota_read_failed", map[string]interface{}{"user_id": user.ID})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user":    user,
		"quota":   quota,
	})
}

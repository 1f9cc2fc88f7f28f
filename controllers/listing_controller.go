package controller

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lwie/middleware"
	"lwie/models"
	"lwie/services"
	"lwie/utils"
)

type CreateListingRequest struct {
	Title       string `json:"title" validate:"required,min=3,max=120"`
	Description string `json:"description" validate:"omitempty,max=5000"`
	Category    string `json:"category" validate:"required,max=50"`
	Condition   string `json:"condition" validate:"omitempty,oneof=new like_new used"`
	Price       int    `json:"price" validate:"gte=0"`
	Mode        string `json:"mode" validate:"omitempty,oneof=sell swap"`
	SwapFor     string `json:"swap_for" validate:"omitempty,max=200"`
	Location    string `json:"location" validate:"omitempty,max=100"`
}

type ListingController struct {
	db     *gorm.DB
	quota  *services.QuotaService
	logger logrus.FieldLogger
}

func NewListingController(db *gorm.DB, quota *services.QuotaService, logger logrus.FieldLogger) *ListingController {
	return &ListingController{
		db:     db,
		quota:  quota,
		logger: logger,
	}
}

// CreateListing publishes a listing and consumes one post from the caller's
// quota in the same database transaction. With no post left it answers 402
// and nothing is stored.
func (lc *ListingController) CreateListing(c *fiber.Ctx) error {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return errorResponse(c, fiber.StatusUnauthorized, "Authorization required")
	}

	var req CreateListingRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	if err := validateListing(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	listing := models.Listing{
		UserID:      user.ID,
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Condition:   req.Condition,
		Price:       req.Price,
		Mode:        req.Mode,
		SwapFor:     req.SwapFor,
		Location:    req.Location,
		Status:      models.ListingStatusActive,
	}
	if listing.Location == "" {
		listing.Location = user.Location
	}

	var quota services.QuotaStatus
	err := lc.db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&listing).Error; err != nil {
			return err
		}
		var err error
		quota, err = lc.quota.WithTx(tx).Consume(c.UserContext(), user.ID, "create_listing", &listing.ID)
		return err
	})
	if errors.Is(err, services.ErrQuotaExhausted) {
		lc.logger.WithField("user_id", user.ID).Info("Listing rejected, quota exhausted")
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"success":         false,
			"quota_exhausted": true,
			"message":         "You have used all your posts. Buy a plan to post more.",
			"quota":           quota,
		})
	}
	if err != nil {
		return serviceError(c, err, "listing_create_failed", map[string]interface{}{"user_id": user.ID})
	}

	lc.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"listing_id": listing.ID,
	}).Info("Listing created")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"listing": listing,
		"quota":   quota,
	})
}

// ListListings browses active listings, newest first.
func (lc *ListingController) ListListings(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := lc.db.WithContext(c.UserContext()).Model(&models.Listing{}).
		Where("status = ?", models.ListingStatusActive)
	if category := strings.ToLower(strings.TrimSpace(c.Query("category"))); category != "" {
		query = query.Where("category = ?", category)
	}
	if mode := c.Query("mode"); mode != "" {
		query = query.Where("mode = ?", mode)
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		query = query.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(q)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return serviceError(c, err, "listing_list_failed", nil)
	}

	var listings []models.Listing
	if err := query.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&listings).Error; err != nil {
		return serviceError(c, err, "listing_list_failed", nil)
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"listings": listings,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

func (lc *ListingController) GetListing(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid listing ID")
	}

	var listing models.Listing
	if err := lc.db.WithContext(c.UserContext()).First(&listing, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, fiber.StatusNotFound, "Listing not found")
		}
		return serviceError(c, err, "listing_read_failed", map[string]interface{}{"listing_id": id})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"listing": listing,
	})
}

func validateListing(req *CreateListingRequest) error {
	if req.Mode == "" {
		req.Mode = models.ListingModeSell
	}
	if err := utils.ValidateStruct(req); err != nil {
		return err
	}
	if req.Mode == models.ListingModeSwap {
		if strings.TrimSpace(req.SwapFor) == "" {
			return errors.New("swap_for is required for swap listings")
		}
		req.Price = 0
	}
	return nil
}

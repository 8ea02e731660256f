package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/store"
)

type playerRequest struct {
	OrganizationID string  `json:"organization_id"`
	DisplayName    string  `json:"display_name"`
	GivenName      string  `json:"given_name"`
	FamilyName     string  `json:"family_name"`
	Sex            string  `json:"sex"`
	BirthDate      *string `json:"birth_date"`
	BirthYear      *int    `json:"birth_year"`
	CountryCode    string  `json:"country_code"`
	RegionID       string  `json:"region_id"`
	ExternalRef    string  `json:"external_ref"`
}

type playerResponse struct {
	PlayerID       string `json:"player_id"`
	OrganizationID string `json:"organization_id"`
	DisplayName    string `json:"display_name"`
	CountryCode    string `json:"country_code"`
	RegionID       string `json:"region_id"`
}

func toPlayerResponse(p store.Player) playerResponse {
	return playerResponse{
		PlayerID: p.PlayerID, OrganizationID: p.OrganizationID, DisplayName: p.DisplayName,
		CountryCode: p.CountryCode, RegionID: p.RegionID,
	}
}

func (s *Server) handleCreatePlayer(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	if req.OrganizationID == "" || req.DisplayName == "" {
		mapError(c, apperr.New(apperr.KindValidation, "organization_id and display_name are required"))
		return
	}

	var birthDate *time.Time
	if req.BirthDate != nil && *req.BirthDate != "" {
		t, err := time.Parse("2006-01-02", *req.BirthDate)
		if err != nil {
			mapError(c, apperr.Wrap(apperr.KindValidation, "invalid birth_date, expected YYYY-MM-DD", err))
			return
		}
		birthDate = &t
	}
	// Open-question decision (a): an explicit birth_year disagreeing with
	// birth_date is rejected rather than silently overridden.
	if birthDate != nil && req.BirthYear != nil && *req.BirthYear != birthDate.Year() {
		mapError(c, apperr.New(apperr.KindValidation, "birth_year does not match birth_date"))
		return
	}

	p, err := s.Store.CreatePlayer(c.Request.Context(), store.Player{
		OrganizationID: req.OrganizationID,
		DisplayName:    req.DisplayName,
		GivenName:      req.GivenName,
		FamilyName:     req.FamilyName,
		Sex:            store.Sex(req.Sex),
		BirthDate:      birthDate,
		BirthYear:      req.BirthYear,
		CountryCode:    req.CountryCode,
		RegionID:       req.RegionID,
		ExternalRef:    req.ExternalRef,
	})
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(201, toPlayerResponse(p))
}

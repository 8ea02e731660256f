package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/store"
)

type organizationRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type organizationResponse struct {
	OrganizationID string `json:"organization_id"`
	Slug           string `json:"slug"`
	Name           string `json:"name"`
}

func toOrganizationResponse(o store.Organization) organizationResponse {
	return organizationResponse{OrganizationID: o.OrganizationID, Slug: o.Slug, Name: o.Name}
}

func (s *Server) handleCreateOrganization(c *gin.Context) {
	var req organizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	if req.Slug == "" || req.Name == "" {
		mapError(c, apperr.New(apperr.KindValidation, "slug and name are required"))
		return
	}
	org, err := s.Store.CreateOrganization(c.Request.Context(), store.Organization{Slug: req.Slug, Name: req.Name})
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(201, toOrganizationResponse(org))
}

func (s *Server) handleListOrganizations(c *gin.Context) {
	orgs, err := s.Store.ListOrganizations(c.Request.Context())
	if err != nil {
		mapError(c, err)
		return
	}
	out := make([]organizationResponse, len(orgs))
	for i, o := range orgs {
		out[i] = toOrganizationResponse(o)
	}
	c.JSON(200, gin.H{"organizations": out})
}

func (s *Server) handleGetOrganization(c *gin.Context) {
	org, err := s.resolveOrganization(c, c.Param("org"))
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(200, toOrganizationResponse(org))
}

func (s *Server) handleUpdateOrganization(c *gin.Context) {
	org, err := s.resolveOrganization(c, c.Param("org"))
	if err != nil {
		mapError(c, err)
		return
	}
	var req organizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		mapError(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}
	if req.Name != "" {
		org.Name = req.Name
	}
	if req.Slug != "" {
		org.Slug = req.Slug
	}
	updated, err := s.Store.UpdateOrganization(c.Request.Context(), org)
	if err != nil {
		mapError(c, err)
		return
	}
	c.JSON(200, toOrganizationResponse(updated))
}

// resolveOrganization accepts either an organization_id or a slug in the
// path, matching the teacher's pattern of tolerant lookups in
// matchmaking where a game can be found by id or rejoin token.
func (s *Server) resolveOrganization(c *gin.Context, idOrSlug string) (store.Organization, error) {
	org, err := s.Store.GetOrganization(c.Request.Context(), idOrSlug)
	if err == nil {
		return org, nil
	}
	return s.Store.GetOrganizationBySlug(c.Request.Context(), idOrSlug)
}

package http_server

import (
	"net/http"

	"github.com/danthegoodman1/avrosplit/utils"
)

type (
	ClaimsReq struct {
		File string `query:"file" validate:"required"`
	}

	FilesReq struct {
		Prefix string `query:"prefix"`
	}
)

func (s *HTTPServer) GetClaims(c *CustomContext) error {
	var req ClaimsReq
	if err := ValidateRequest(c, &req); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	claims, err := s.deps.Claims.ListClaims(c.Request().Context(), req.File)
	if err != nil {
		return c.InternalError(err, "error listing claims")
	}

	return c.JSON(http.StatusOK, claims)
}

func (s *HTTPServer) GetFiles(c *CustomContext) error {
	var req FilesReq
	if err := ValidateRequest(c, &req); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	files, err := s.deps.Store.ListFiles(c.Request().Context(), req.Prefix)
	if err != nil {
		return c.InternalError(err, "error listing files")
	}

	return c.JSON(http.StatusOK, utils.ArrayOrEmpty(files))
}

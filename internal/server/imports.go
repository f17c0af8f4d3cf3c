package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	importdomain "github.com/smallbiznis/greenledger/internal/importer/domain"
)

const maxUploadBytes = 32 << 20

func (s *Server) CreateImportJob(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		AbortWithError(c, importdomain.ErrEmptyFile)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(content) > maxUploadBytes {
		AbortWithError(c, newValidationError("file", "file_too_large", "file exceeds 32 MiB"))
		return
	}

	dryRun, err := parseOptionalBool(c.PostForm("dry_run"))
	if err != nil {
		AbortWithError(c, newValidationError("dry_run", "invalid_dry_run", "invalid dry_run"))
		return
	}

	var mapping map[string]string
	if raw := strings.TrimSpace(c.PostForm("mapping")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			AbortWithError(c, importdomain.ErrInvalidMapping)
			return
		}
	}

	resp, err := s.importSvc.Create(c.Request.Context(), importdomain.CreateJobRequest{
		DataType: importdomain.DataType(strings.ToLower(strings.TrimSpace(c.PostForm("data_type")))),
		FileName: header.Filename,
		Content:  content,
		Mapping:  mapping,
		DryRun:   dryRun != nil && *dryRun,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": resp})
}

func (s *Server) ListImportJobs(c *gin.Context) {
	var query importdomain.ListJobsRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.importSvc.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetImportJob(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.importSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type importMappingRequest struct {
	Mapping map[string]string `json:"mapping"`
}

func (s *Server) SetImportMapping(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req importMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.importSvc.SetMapping(c.Request.Context(), id, req.Mapping)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": resp})
}

func (s *Server) RerunImportStage(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stage := importdomain.Stage(strings.ToLower(strings.TrimSpace(c.Param("stage"))))
	resp, err := s.importSvc.Rerun(c.Request.Context(), id, stage)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": resp})
}

func (s *Server) ImportReport(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.importSvc.Report(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/x-ndjson", report)
}

func (s *Server) SuggestMapping(c *gin.Context) {
	var headers []string
	for _, raw := range c.QueryArray("header") {
		for _, h := range strings.Split(raw, ",") {
			if h = strings.TrimSpace(h); h != "" {
				headers = append(headers, h)
			}
		}
	}

	resp, err := s.importSvc.Suggest(c.Request.Context(), importdomain.SuggestRequest{
		DataType: importdomain.DataType(strings.ToLower(strings.TrimSpace(c.Query("data_type")))),
		Headers:  headers,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// Package validation checks decoded request payloads against their
// `validate` struct tags and turns failures into caller-facing messages.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/splax/clouddeploy/internal/domain"
)

var (
	projectNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\s\-_.]*$`)
	repoSegmentPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = validate.RegisterValidation("project_name", func(fl validator.FieldLevel) bool {
		return ProjectNameProblem(fl.Field().String()) == ""
	})
	_ = validate.RegisterValidation("github_url", func(fl validator.FieldLevel) bool {
		return GithubURLProblem(fl.Field().String()) == ""
	})
}

// Struct validates v and returns a domain.ErrInvalidInput error naming the
// first failing field.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.Invalid(err.Error())
	}
	return domain.Invalid(message(fieldErrs[0]))
}

func message(fe validator.FieldError) string {
	value := fmt.Sprint(fe.Value())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "project_name":
		return ProjectNameProblem(value)
	case "github_url":
		return GithubURLProblem(value)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// ProjectNameProblem returns why name is not an acceptable project name, or
// "" when it is.
func ProjectNameProblem(name string) string {
	length := utf8.RuneCountInString(name)
	switch {
	case name == "":
		return "Project name is required"
	case length < 3:
		return "Project name must be at least 3 characters"
	case length > 100:
		return "Project name must be less than 100 characters"
	case !projectNamePattern.MatchString(name):
		return "Project name can only contain letters, numbers, spaces, hyphens, underscores, and dots"
	}
	return ""
}

// GithubURLProblem returns why raw is not a GitHub repository URL of the
// form https://github.com/<owner>/<repo>, or "" when it is.
func GithubURLProblem(raw string) string {
	if raw == "" {
		return "URL is required"
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme != "https" {
		return "URL must start with https://"
	}
	if host := strings.ToLower(parsed.Host); host != "github.com" && host != "www.github.com" {
		return "URL must be a GitHub repository (github.com)"
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "GitHub URL must be in format: https://github.com/username/repository"
	}
	repo := strings.TrimSuffix(parts[1], ".git")
	if !repoSegmentPattern.MatchString(parts[0]) || repo == "" || !repoSegmentPattern.MatchString(repo) {
		return "Repository name contains invalid characters"
	}
	return ""
}

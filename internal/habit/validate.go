package habit

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/hitoshi/habitloop/internal/model"
)

// 入力項目の最大文字数（ルーン数）。
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 1000
	MaxCategoryLength    = 50
)

// reminderTimePattern は24時間表記のHH:MMにマッチする。
var reminderTimePattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// CreateInput は習慣作成の入力。
type CreateInput struct {
	Title        string
	Description  string
	Category     string
	ReminderTime string
	Image        string
	// Public がnilの場合は公開として作成する。
	Public *bool
}

// habitFields は正規化済みの編集可能フィールド。
type habitFields struct {
	Title        string
	Description  string
	Category     string
	ReminderTime string
	Image        string
	Visibility   model.Visibility
}

func (s *Service) normalizeCreate(in CreateInput) (*habitFields, error) {
	f := &habitFields{
		Title:       s.sanitizer.SanitizeText(in.Title),
		Description: s.sanitizer.SanitizeText(in.Description),
		Category:    s.sanitizer.SanitizeText(in.Category),
		Visibility:  model.VisibilityPublic,
	}
	if in.Public != nil && !*in.Public {
		f.Visibility = model.VisibilityPrivate
	}

	if err := requireText("title", f.Title, MaxTitleLength); err != nil {
		return nil, err
	}
	if err := requireText("description", f.Description, MaxDescriptionLength); err != nil {
		return nil, err
	}
	if err := requireText("category", f.Category, MaxCategoryLength); err != nil {
		return nil, err
	}

	reminder, err := validateReminderTime(in.ReminderTime)
	if err != nil {
		return nil, err
	}
	f.ReminderTime = reminder

	image, err := s.validateImage(in.Image)
	if err != nil {
		return nil, err
	}
	f.Image = image

	return f, nil
}

// applyPatch はpatchの非nilフィールドを検証してhへ反映し、変更があったかを返す。
// 検証エラーの場合hは変更しない。
func (s *Service) applyPatch(h *model.Habit, patch model.HabitPatch) (bool, error) {
	next := *h
	changed := false

	if patch.Title != nil {
		next.Title = s.sanitizer.SanitizeText(*patch.Title)
		if err := requireText("title", next.Title, MaxTitleLength); err != nil {
			return false, err
		}
		changed = true
	}
	if patch.Description != nil {
		next.Description = s.sanitizer.SanitizeText(*patch.Description)
		if err := requireText("description", next.Description, MaxDescriptionLength); err != nil {
			return false, err
		}
		changed = true
	}
	if patch.Category != nil {
		next.Category = s.sanitizer.SanitizeText(*patch.Category)
		if err := requireText("category", next.Category, MaxCategoryLength); err != nil {
			return false, err
		}
		changed = true
	}
	if patch.ReminderTime != nil {
		reminder, err := validateReminderTime(*patch.ReminderTime)
		if err != nil {
			return false, err
		}
		next.ReminderTime = reminder
		changed = true
	}
	if patch.Image != nil {
		image, err := s.validateImage(*patch.Image)
		if err != nil {
			return false, err
		}
		next.Image = image
		changed = true
	}
	if patch.Public != nil {
		next.Visibility = model.VisibilityPrivate
		if *patch.Public {
			next.Visibility = model.VisibilityPublic
		}
		changed = true
	}

	*h = next
	return changed, nil
}

func requireText(field, value string, maxLen int) error {
	if value == "" {
		return model.NewInvalidHabitError(fmt.Sprintf("%s is required", field))
	}
	if utf8.RuneCountInString(value) > maxLen {
		return model.NewInvalidHabitError(fmt.Sprintf("%s must be at most %d characters", field, maxLen))
	}
	return nil
}

// validateReminderTime は空またはHH:MM形式のみ受け付ける。
func validateReminderTime(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	if !reminderTimePattern.MatchString(v) {
		return "", model.NewInvalidHabitError(fmt.Sprintf("reminderTime %q must be HH:MM", v))
	}
	return v, nil
}

// validateImage は空またはSSRF検証を通過するhttp(s) URLのみ受け付ける。
func (s *Service) validateImage(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	if err := s.urls.ValidateURL(v); err != nil {
		return "", model.NewInvalidImageURLError(err.Error())
	}
	return v, nil
}

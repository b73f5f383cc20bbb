package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/kestrelwatch/kestrel/internal/detection"
	"github.com/kestrelwatch/kestrel/internal/errors"
)

const shoutrrrTimeout = 15 * time.Second

// ShoutrrrProvider fans alerts out to arbitrary shoutrrr service URLs
// (telegram, ntfy, gotify and the rest). One sender covers all URLs.
type ShoutrrrProvider struct {
	enabled bool
	urls    []string
	sender  *router.ServiceRouter
}

func NewShoutrrrProvider(enabled bool, urls []string) *ShoutrrrProvider {
	return &ShoutrrrProvider{
		enabled: enabled,
		urls:    slices.Clone(urls),
	}
}

func (s *ShoutrrrProvider) GetName() string { return "shoutrrr" }

func (s *ShoutrrrProvider) IsEnabled() bool { return s.enabled }

func (s *ShoutrrrProvider) SupportsType(detection.AlertType) bool { return true }

// ValidateConfig builds the sender, which validates every URL.
func (s *ShoutrrrProvider) ValidateConfig() error {
	if !s.enabled {
		return nil
	}
	if len(s.urls) == 0 {
		return errors.Newf("shoutrrr requires at least one URL").
			Component("notification").
			Category(errors.CategoryValidation).
			Build()
	}
	sender, err := shoutrrr.CreateSender(s.urls...)
	if err != nil {
		return errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("channel", "shoutrrr").
			Build()
	}
	sender.Timeout = shoutrrrTimeout
	sender.SetLogger(log.New(io.Discard, "", 0))
	s.sender = sender
	return nil
}

func (s *ShoutrrrProvider) Send(ctx context.Context, n *Notification) error {
	if s.sender == nil {
		return errors.Newf("shoutrrr sender not initialized").
			Component("notification").
			Category(errors.CategoryState).
			Build()
	}
	_ = ctx // the router applies its own timeout

	body := fmt.Sprintf("%s\nCamera: %s\nSeverity: %s\nConfidence: %.2f",
		n.Message, n.CameraID, n.Severity, n.Confidence)
	params := stypes.Params{}
	params.SetTitle(n.Title)

	for _, err := range s.sender.Send(body, &params) {
		if err != nil {
			return errors.New(err).
				Component("notification").
				Category(errors.CategoryNotification).
				Context("channel", "shoutrrr").
				Build()
		}
	}
	return nil
}

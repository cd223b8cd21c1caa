package app

import (
	"context"

	"github.com/tphakala/docworker/internal/access"
	"github.com/tphakala/docworker/internal/logger"
	"github.com/tphakala/docworker/internal/worker"
)

// Inventory returns a processor that lists each element's children and
// transcriptions and logs what it found. It writes nothing and serves as
// the default work of the run command.
func Inventory(log logger.Logger, maxImageSize int) Processor {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return func(layer *access.Layer) worker.ProcessFunc {
		return func(ctx context.Context, el access.ElementRef) error {
			children, err := layer.ListChildren(ctx, el, access.ChildrenFilter{})
			if err != nil {
				return err
			}
			transcriptions, err := layer.ListTranscriptions(ctx, el, access.TranscriptionsFilter{})
			if err != nil {
				return err
			}

			fields := []logger.Field{
				logger.String("element_id", el.ID),
				logger.String("type", el.Type),
				logger.Int("children", len(children)),
				logger.Int("transcriptions", len(transcriptions)),
			}
			if el.Image != nil {
				url, err := layer.ImageURL(el, maxImageSize)
				if err != nil {
					return err
				}
				fields = append(fields, logger.String("image_url", url))
			}
			log.Info("element inventory", fields...)
			return nil
		}
	}
}

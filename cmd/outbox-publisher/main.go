package main

import (
	"context"

	"github.com/angelmondragon/inspectbid-backend/internal/bootstrap"
	"github.com/angelmondragon/inspectbid-backend/pkg/outbox"
	"github.com/angelmondragon/inspectbid-backend/pkg/pubsub"
)

func main() {
	bootstrap.Main(bootstrap.Options{Service: "outbox-publisher"}, publish)
}

func publish(ctx context.Context, rt *bootstrap.Runtime) error {
	client, err := pubsub.NewClient(ctx, rt.Config.GCP, rt.Config.PubSub, rt.Logger)
	if err != nil {
		return err
	}
	rt.OnClose("pubsub", client.Close)

	service, err := NewService(ServiceParams{
		Config:     rt.Config,
		Logger:     rt.Logger,
		DB:         rt.DB,
		PubSub:     client,
		Repository: outbox.NewRepository(rt.DB.DB()),
	})
	if err != nil {
		return err
	}
	rt.Logger.Info(rt.Logger.WithField(ctx, "topic", rt.Config.PubSub.EscrowTopic), "outbox.publishing")
	return service.Run(ctx)
}

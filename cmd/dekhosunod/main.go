// Package main runs the DekhoSuno backend daemon: camera capture, the
// road-crossing analysis loop, and the HTTP surface the mobile client uses.
package main

import (
	"context"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"github.com/chandanpandeys/dekhosuno/camera"
	"github.com/chandanpandeys/dekhosuno/camera/fake"
	"github.com/chandanpandeys/dekhosuno/config"
	"github.com/chandanpandeys/dekhosuno/roadcross"
	"github.com/chandanpandeys/dekhosuno/traffic"
	"github.com/chandanpandeys/dekhosuno/vision/gemini"
	"github.com/chandanpandeys/dekhosuno/web"
)

var logger = golog.NewDevelopmentLogger("dekhosunod")

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the daemon.
type Arguments struct {
	ConfigFile string `flag:"config,usage=path to config file"`
	Address    string `flag:"address,usage=override http bind address"`
	FakeCamera bool   `flag:"fake-camera,usage=use a synthesized camera instead of a real device"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) (err error) {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	configPath := argsParsed.ConfigFile
	if configPath == "" {
		if configPath, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if argsParsed.Address != "" {
		conf.Server.BindAddress = argsParsed.Address
	}

	apiKey := os.Getenv(conf.Gemini.APIKeyEnv)
	if apiKey == "" {
		return errors.Errorf("environment variable %s is not set", conf.Gemini.APIKeyEnv)
	}
	analyzer, err := gemini.New(ctx, apiKey, conf.Gemini.Model, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, analyzer.Close())
	}()

	var cam camera.Camera
	if argsParsed.FakeCamera {
		logger.Info("using fake camera")
		cam = &fake.Camera{Width: conf.Camera.Width, Height: conf.Camera.Height}
	} else {
		cam = camera.NewWebcam(conf.Camera, logger)
	}

	crossing, err := roadcross.New(roadcross.Params{
		Camera:   cam,
		Analyzer: analyzer,
		Interval: conf.Analysis.Interval(),
		OnAnalysis: func(result traffic.Analysis) {
			logger.Infow("road analysis",
				"status", result.Status,
				"can_cross", result.CanCross,
				"vehicles", result.Vehicles,
			)
		},
		// the phone does the actual text-to-speech; log what it would say
		OnSpeak: func(text string) {
			logger.Infow("speak", "text", text)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, crossing.Close(context.Background()))
	}()

	server := web.NewServer(crossing, logger)
	if err := server.Start(conf.Server.BindAddress); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, server.Stop(context.Background()))
	}()

	if err := crossing.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

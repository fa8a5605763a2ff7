// attendancectl is the privileged companion to the API: it mints tokens
// for operators, enrolls reference faces and validates hostel boundary
// files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"hostelhub/internal/attendance"
	"hostelhub/internal/auth"
	"hostelhub/internal/config"
	"hostelhub/internal/face"
	"hostelhub/internal/faceclient"
	"hostelhub/internal/geofence"
	"hostelhub/internal/logging"
	"hostelhub/internal/store"
)

const usage = `usage: attendancectl <command> [flags]

commands:
  token    mint a bearer token for a student or admin
  enroll   extract a face from an image and store it as a student's reference
  hostels  validate a boundary file and list its hostels
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}
	switch args[0] {
	case "token":
		return runToken(args[1:], out)
	case "enroll":
		return runEnroll(ctx, args[1:], out)
	case "hostels":
		return runHostels(args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q", args[0])
}

// loadConfig applies --env-file and returns the environment config.
func loadConfig(envFile string) (config.App, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return config.App{}, err
	}
	return config.Load(), nil
}

func runToken(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "dotenv file")
	subject := fs.String("subject", "", "user id the token is issued for")
	role := fs.String("role", auth.RoleStudent, "student or admin")
	hostel := fs.String("hostel", "", "hostel block (required for admins)")
	ttl := fs.Duration("ttl", 0, "access token lifetime (default ACCESS_TTL)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*envFile)
	if err != nil {
		return err
	}
	if *role == auth.RoleAdmin && *hostel == "" {
		return errors.New("--hostel is required for admin tokens")
	}
	accessTTL := cfg.AccessTTL
	if *ttl > 0 {
		accessTTL = *ttl
	}
	pair, err := auth.Issue(auth.Identity{Subject: *subject, Role: *role, HostelBlock: *hostel},
		cfg.JWTIssuer, cfg.JWTSigningKey, accessTTL, 7*24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, pair.AccessToken)
	return nil
}

func runEnroll(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("enroll", pflag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "dotenv file")
	userID := fs.String("user", "", "student id")
	name := fs.String("name", "", "student name (creates or updates the student)")
	hostel := fs.String("hostel", "", "hostel block (creates or updates the student)")
	image := fs.String("image", "", "path to a jpeg, png or webp reference photo")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" || *image == "" {
		return errors.New("--user and --image are required")
	}
	cfg, err := loadConfig(*envFile)
	if err != nil {
		return err
	}
	log := logging.New("attendancectl", cfg.LogLevel)

	photo, err := os.ReadFile(*image)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	if cfg.DBDriver == store.DriverMemory {
		return errors.New("enroll needs a persistent database, set DB_DRIVER to postgres or sqlite")
	}
	db, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := attendance.NewRepository(db.Client)

	if *name != "" || *hostel != "" {
		if *name == "" || *hostel == "" {
			return errors.New("--name and --hostel go together")
		}
		registry, err := loadRegistry(cfg.HostelsFile)
		if err != nil {
			return err
		}
		if _, ok := registry.Lookup(*hostel); !ok {
			log.Warn("hostel has no geofence, marks will skip the location check", "hostel", *hostel)
		}
		if err := repo.UpsertStudent(ctx, attendance.Student{ID: *userID, Name: *name, HostelBlock: *hostel}); err != nil {
			return fmt.Errorf("upsert student: %w", err)
		}
	}

	engine := face.NewEngine(faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip), cfg.FaceModelLoadTimeout, log, nil)
	engine.Init()
	emb, err := face.NewExtractor(engine, cfg.FaceExtractTimeout, nil).Extract(ctx, photo)
	if err != nil {
		return err
	}
	if err := repo.EnrollFace(ctx, *userID, emb); err != nil {
		return fmt.Errorf("enroll face: %w", err)
	}
	fmt.Fprintf(out, "enrolled %s (%d-d descriptor)\n", *userID, len(emb))
	return nil
}

func runHostels(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("hostels", pflag.ContinueOnError)
	file := fs.String("file", "", "boundary YAML file (default: built-in registry)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	registry, err := loadRegistry(*file)
	if err != nil {
		return err
	}
	for _, n := range registry.Names() {
		b, _ := registry.Lookup(n)
		if b.IsCircle() {
			fmt.Fprintf(out, "%s\tcircle\t%.6f,%.6f r=%.0fm\n", n, b.Center.Lat, b.Center.Lng, b.RadiusMeters)
			continue
		}
		fmt.Fprintf(out, "%s\tpolygon\t%d points\n", n, len(b.Points))
	}
	return nil
}

func loadRegistry(path string) (*geofence.Registry, error) {
	if path == "" {
		return geofence.Default()
	}
	return geofence.LoadFile(path)
}

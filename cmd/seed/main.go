package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"apply-coordinator/internal/config"
	"apply-coordinator/internal/domain/model"
	pg "apply-coordinator/internal/infra/db/postgres"
)

type seedFile struct {
	Sites []struct {
		Name    string `yaml:"name"`
		URL     string `yaml:"url"`
		Pattern string `yaml:"pattern"`
	} `yaml:"sites"`
	Jobs []struct {
		URL     string `yaml:"url"`
		Title   string `yaml:"title"`
		Company string `yaml:"company"`
		Site    string `yaml:"site"` // optional reference by site name
	} `yaml:"jobs"`
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	seedPath := flag.String("sites", "sites.yaml", "path to the seed file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	b, err := os.ReadFile(*seedPath)
	if err != nil {
		log.Fatalf("read seed file: %v", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(b, &seed); err != nil {
		log.Fatalf("parse seed file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if cfg.Database.Migrate {
		if err := pg.Migrate(cfg.Database.URL); err != nil {
			log.Fatalf("migrations: %v", err)
		}
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	tm := pg.NewTxManager(pool)
	siteRepo := pg.NewSiteRepo(pool, tm)
	jobRepo := pg.NewJobRepo(pool)

	// If sites already exist, do nothing: seeding is first-run only.
	existing, err := siteRepo.ListAll(ctx, nil)
	if err != nil {
		log.Fatalf("list sites: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d sites already present. No changes.\n", len(existing))
		return
	}

	siteIDs := make(map[string]string, len(seed.Sites))
	for _, s := range seed.Sites {
		site := model.NewSite("", s.Name, s.URL, s.Pattern)
		if err := siteRepo.Save(ctx, nil, site); err != nil {
			log.Fatalf("save site %q: %v", s.Name, err)
		}
		siteIDs[s.Name] = site.ID
		fmt.Printf("seeded site: %s (id=%s)\n", site.Name, site.ID)
	}

	for _, j := range seed.Jobs {
		job := &model.Job{
			SiteID:  siteIDs[j.Site],
			URL:     j.URL,
			Title:   j.Title,
			Company: j.Company,
		}
		if err := jobRepo.Save(ctx, nil, job); err != nil {
			log.Fatalf("save job %q: %v", j.URL, err)
		}
		fmt.Printf("seeded job: %s at %s (id=%s)\n", job.Title, job.Company, job.ID)
	}

	fmt.Println("Seeding complete.")
}

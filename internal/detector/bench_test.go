package detector_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/detector"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/config"
)

// benchCorpus returns n documents of 300 words from a 5000 word vocabulary.
// Every tenth document repeats an earlier one with its first word changed.
func benchCorpus(n int) []string {
	r := rand.New(rand.NewPCG(1, 2))
	docs := make([]string, n)
	for i := range docs {
		if i >= 10 && i%10 == 0 {
			words := strings.Fields(docs[r.IntN(i)])
			words[0] = "edited"
			docs[i] = strings.Join(words, " ")
			continue
		}
		words := make([]string, 300)
		for j := range words {
			words[j] = fmt.Sprintf("w%d", r.IntN(5000))
		}
		docs[i] = strings.Join(words, " ")
	}
	return docs
}

func BenchmarkDetectorAdd(b *testing.B) {
	docs := benchCorpus(1000)
	for _, strategy := range []string{config.CandidatesByHash, config.CandidatesBySketch} {
		b.Run(strategy, func(b *testing.B) {
			cfg := config.Default()
			cfg.Detector.Candidates = strategy
			ctx := context.Background()
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				b.StopTimer()
				d := detector.New(index.NewMemoryIndex("bench"), shingle.NewGenerator(cfg.Shingle), cfg.Detector)
				if err := d.Open(ctx); err != nil {
					b.Fatal(err)
				}
				b.StartTimer()
				for _, doc := range docs {
					if _, err := d.AddDocument(ctx, doc); err != nil {
						b.Fatal(err)
					}
				}
			}
		})
	}
}

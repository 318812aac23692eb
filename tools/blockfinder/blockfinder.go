package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/maxsupermanhd/livemap/chunkStorage"
	"github.com/maxsupermanhd/livemap/chunkStorage/memoryChunkStorage"
	"github.com/maxsupermanhd/livemap/chunkStorage/postgresChunkStorage"
	"github.com/maxsupermanhd/livemap/primitives"
	"github.com/maxsupermanhd/livemap/render"
)

var (
	dbstr      = flag.String("db", "", "Postgres connection string")
	snapshot   = flag.String("snapshot", "", "Memory storage snapshot to search instead of database")
	wname      = flag.String("wname", "world", "World name")
	dname      = flag.String("dname", "the_nether", "Dim name")
	match      = flag.String("match", "portal", "Substring of block name to look for")
	centerX    = flag.Int("cx", 0, "Center chunk X")
	centerZ    = flag.Int("cz", 0, "Center chunk Z")
	radius     = flag.Int("radius", 32, "Search radius in chunks")
	outfname   = flag.String("out", "out.txt", "Filename for writing results to")
	threadsnum = flag.Int("threads", 3, "Thread count")
)

func must(err error) {
	if err != nil {
		log.Fatalln(err)
	}
}

// scanChunk reports every column of the chunk that contains a block
// with name containing substr, topmost match only
func scanChunk(c render.ChunkData, substr string) []string {
	ret := []string{}
	pos := c.Pos()
	for z := 0; z < 16; z++ {
		for x := 0; x < 16; x++ {
			for y := c.WorldHeight() - 1; y >= 0; y-- {
				b, err := c.BlockAt(x, y, z)
				if err != nil || b == nil || b.IsAir {
					continue
				}
				if strings.Contains(b.Name, substr) {
					ret = append(ret, fmt.Sprintf("CHUNK x%d z%d block %d %d %d match %s",
						pos.X, pos.Z, pos.X*16+x, y, pos.Z*16+z, b.Name))
					break
				}
			}
		}
	}
	return ret
}

func worker(wid int, s chunkStorage.ChunkStorage, jobs <-chan primitives.ChunkPos, results chan<- string, wg *sync.WaitGroup) {
	log.Printf("Worker %d started", wid)
	defer wg.Done()
	chunkcount := 0
	for j := range jobs {
		c, err := s.GetChunk(*wname, *dname, j.X, j.Z)
		must(err)
		if c == nil {
			continue
		}
		chunkcount++
		for _, r := range scanChunk(c, *match) {
			log.Print(r)
			results <- r
		}
	}
	log.Printf("Worker %d exits, processed %d chunks", wid, chunkcount)
}

func filewriter(results <-chan string, done chan<- struct{}) {
	defer close(done)
	log.Printf("Filewriter thread started")
	file, err := os.OpenFile(*outfname, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	must(err)
	defer file.Close()
	linecount := 0
	for r := range results {
		linecount++
		if !strings.HasSuffix(r, "\n") {
			r = r + "\n"
		}
		file.WriteString(r)
	}
	log.Printf("File writer exits, wrote %d lines", linecount)
}

func openStorage() chunkStorage.ChunkStorage {
	if *dbstr != "" {
		s, err := postgresChunkStorage.NewPostgresChunkStorage(context.Background(), *dbstr, nil)
		must(err)
		return s
	}
	if *snapshot == "" {
		log.Fatalln("Neither database connection string nor snapshot set")
	}
	s := memoryChunkStorage.NewMemoryChunkStorage(nil)
	must(s.LoadSnapshot(*snapshot))
	return s
}

func main() {
	flag.Parse()
	s := openStorage()
	defer s.Close()
	dim, err := s.GetDimension(*wname, *dname)
	must(err)
	if dim == nil {
		log.Fatalf("Dimension %s/%s not found", *wname, *dname)
	}

	coordlist := make([]primitives.ChunkPos, 0, (2**radius+1)*(2**radius+1))
	for z := *centerZ - *radius; z <= *centerZ+*radius; z++ {
		for x := *centerX - *radius; x <= *centerX+*radius; x++ {
			coordlist = append(coordlist, primitives.ChunkPos{X: x, Z: z})
		}
	}

	jobs := make(chan primitives.ChunkPos, 64)
	results := make(chan string)
	written := make(chan struct{})
	wg := new(sync.WaitGroup)
	go filewriter(results, written)
	for w := 0; w < max(1, *threadsnum); w++ {
		wg.Add(1)
		go worker(w, s, jobs, results, wg)
	}
	prevchunks := 0
	starttime := time.Now()
	prevtime := time.Now()
	for i, coords := range coordlist {
		jobs <- coords
		if time.Since(prevtime) > 1*time.Second {
			deltachunks := i - prevchunks
			deltatime := time.Since(prevtime)
			log.Printf("Processed %10d chunks, %10d to go (%06.2f%%) (%6.0f chunks/s)",
				i, len(coordlist)-i, float32(i)/float32(len(coordlist))*100,
				float64(deltachunks)/deltatime.Seconds())
			prevtime = time.Now()
			prevchunks = i
		}
	}
	close(jobs)
	wg.Wait()
	close(results)
	<-written

	log.Printf("Processed %d chunks in %s", len(coordlist), time.Since(starttime).Round(time.Second))
}

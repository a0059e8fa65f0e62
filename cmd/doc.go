// Package cmd defines the catalogcrawler CLI.
//
// Architecture overview:
//   - crawl: walks every seed in crawler.seeds_file breadth-first with the Colly page fetcher, optionally
//     promoting JS-heavy pages to a chromedp render, and appends each newly discovered image URL to
//     <output>/image_links.txt as soon as it is found.
//   - download: feeds the handoff file through the coordinator. A bounded worker pool downloads and
//     normalises each image, the collaborators filter and classify it, and a single committer goroutine
//     moves the file into <output>/images, appends the catalog row and commits the dedup hash.
//   - run: crawl followed by download in one process.
//
// Operational notes:
//   - Configuration comes from an optional --config file plus CRAWLER_* environment variables.
//   - SIGINT/SIGTERM cancel the root context; in-flight downloads stop, commits already started finish,
//     and the run summary is still logged.
//   - When metrics.addr is set, /healthz, /readyz, /metrics and /v1/status are served for the life of
//     the command.
package cmd

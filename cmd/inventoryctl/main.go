// Command inventoryctl browses catalog inventories through the paging engine.
//
// Configuration comes from the environment (CATALOG_BASE_URL, REDIS_ADDR,
// PORT, USER_AGENT, LOG_LEVEL, LOG_PRETTY, PAGE_SIZE, SERVER_PAGE_SIZE,
// RATE_LIMIT); per-command flags override the paging settings.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Package cache provides a layered, expiring key/value cache used to keep
// quiz content close to the bot.
//
// # Cache Interface
//
// Every cache implements [Cache]. [Cache.Get] and [Cache.GetOrLoad] work on
// values and treat an expired entry as absent. [Cache.GetEntry] and
// [Cache.SetEntry] work on raw [Entry] values and leave expiry to the caller.
// A cache's TTL is fixed at construction; constructors panic on a TTL that is
// not positive.
//
// # Tiers
//
//   - [NewMemory]: an in-process map behind one mutex. GetOrLoad holds that
//     mutex for the whole check, load and store sequence, so a slow loader
//     blocks every key.
//
//   - [NewFile]: one file per key under a directory, encoded with a
//     [codec.Codec]. Missing and undecodable files are misses. Keys are used
//     as file names verbatim.
//
//   - [NewSQLite]: one row per key in a SQLite database using
//     [modernc.org/sqlite] (pure Go, no CGO).
//
// # Decorators
//
// Decorators wrap one or two caches with the same TTL and are themselves
// caches:
//
//   - [Fallback] reads primary, then secondary when primary has nothing.
//   - [WritePropagation] writes primary, then secondary.
//   - [ReadPropagation] copies what it reads from primary into secondary.
//   - [Persistent] runs at most one loader per key and serves stale entries
//     to callers racing a refresh.
//
// # Assembly
//
// [NewMemoryWithFileFallback] composes the tiers as
//
//	Fallback(WritePropagation(memory, file), ReadPropagation(file, memory))
//
// so that writes reach both tiers and reads from the file warm memory.
// [NewPersistentMemoryWithFileFallback] wraps that in [Persistent]; it is the
// cache the quiz service runs on. The SQLite variants swap the file tier for
// a database.
//
//	c, err := cache.NewPersistentMemoryWithFileFallback[string, quiz.Set](
//		12*time.Hour, "/var/cache/quizbot", codec.FormatJSON,
//		cache.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//	set, err := c.GetOrLoad(ctx, "en", func(ctx context.Context) (quiz.Set, error) {
//		return client.Fetch(ctx, "en")
//	})
package cache

package wlredis

import "github.com/go-redis/redis/v8"

var redisAdmitScript = redis.NewScript(`
local key = KEYS[1] -- Sorted set holding admission instants of one controller
local now = tonumber(ARGV[1]) -- Current time in microseconds
local interval = tonumber(ARGV[2]) -- Window length in microseconds
local limit = tonumber(ARGV[3]) -- Maximum admissions per window
local ttlMillis = tonumber(ARGV[4]) -- Expiry of the whole set
local member = ARGV[5] -- Unique member for this admission

-- Drop instants which are beyond the current window (now - t >= interval)
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - interval)

local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('PEXPIRE', key, ttlMillis)
    return {1, 0} -- Admitted
end

-- Window is full: report the oldest retained instant so the caller can wait it out
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, tonumber(oldest[2])}
`)

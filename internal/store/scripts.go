package store

// The three scripts below implement the cache-mutation half of spec.md
// §4.2 (steps 1-4: stamp a new rev off the store clock, load, mutate, and
// write back the items map). The fan-out publish (step 5) is deliberately
// NOT folded into these scripts in this implementation — see the pubsub
// package doc comment and DESIGN.md for why the cross-node bus is NATS,
// published by the coordinator immediately after a script returns success,
// rather than a Redis PUBLISH inside the Lua body.
//
// KEYS[1] = todo:state:{list_id}
// ARGV[1] = item_id, ARGV[2] = item JSON

const revClock = `
local t = redis.call('TIME')
local seconds = tonumber(t[1])
local micros = tonumber(t[2])
local rev = seconds + (micros / 1000000)
return rev
`

const addItemScript = `
local rev = (function()` + revClock + `end)()

local items_raw = redis.call('HGET', KEYS[1], 'items')
local items = {}
if items_raw then
  items = cjson.decode(items_raw)
end

items[ARGV[1]] = cjson.decode(ARGV[2])

redis.call('HSET', KEYS[1], 'items', cjson.encode(items), 'rev', tostring(rev), 'updated_at', tostring(rev))
return tostring(rev)
`

const updateItemScript = `
local exists = redis.call('EXISTS', KEYS[1])
if exists == 0 then
  return redis.error_reply('not_found')
end

local items_raw = redis.call('HGET', KEYS[1], 'items')
local items = {}
if items_raw then
  items = cjson.decode(items_raw)
end

if items[ARGV[1]] == nil then
  return redis.error_reply('not_found')
end

local rev = (function()` + revClock + `end)()

items[ARGV[1]] = cjson.decode(ARGV[2])

redis.call('HSET', KEYS[1], 'items', cjson.encode(items), 'rev', tostring(rev), 'updated_at', tostring(rev))
return tostring(rev)
`

const deleteItemScript = `
local exists = redis.call('EXISTS', KEYS[1])
if exists == 0 then
  return redis.error_reply('not_found')
end

local items_raw = redis.call('HGET', KEYS[1], 'items')
local items = {}
if items_raw then
  items = cjson.decode(items_raw)
end

if items[ARGV[1]] == nil then
  return redis.error_reply('not_found')
end

local rev = (function()` + revClock + `end)()

items[ARGV[1]] = cjson.decode(ARGV[2])

redis.call('HSET', KEYS[1], 'items', cjson.encode(items), 'rev', tostring(rev), 'updated_at', tostring(rev))
return tostring(rev)
`

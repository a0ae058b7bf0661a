package sqlinline

// JobColumns is the column order every job query returns; repo.scanJob
// depends on it.
const JobColumns = `id, content_id, kind, usage, asset_id, workflow, prompt, negative_prompt, alt_text,
  width, height, steps, cfg_scale, sampler, scheduler, seed,
  status, attempts, last_error, storage_path, public_url, result_asset_id, created_at, updated_at`

const QEnqueueJob = `--sql 392876ca-8a38-4ec2-9a35-7e286c911fc2
insert into generation_jobs (
  id, content_id, kind, usage, asset_id, workflow, prompt, negative_prompt, alt_text,
  width, height, steps, cfg_scale, sampler, scheduler, seed,
  status, attempts, created_at, updated_at
) values (
  coalesce(nullif($1::text, ''), gen_random_uuid()::text),
  nullif($2::text, ''),
  $3::text,
  nullif($4::text, ''),
  nullif($5::text, ''),
  $6::text,
  $7::text,
  $8::text,
  $9::text,
  $10::int, $11::int, $12::int, $13::double precision, $14::text, $15::text, $16::bigint,
  'queued', 0, now(), now()
)
returning ` + JobColumns + `;
`

// QClaimQueuedJobs claims the oldest queued rows in one statement so two
// concurrent batches never pick the same job.
const QClaimQueuedJobs = `--sql e5e9d0b0-1cc7-4b92-b9b5-40abf221ac3c
with next_jobs as (
    select id as next_id
    from generation_jobs
    where status = 'queued'
    order by created_at asc, id asc
    for update skip locked
    limit $1::int
)
update generation_jobs
set status = 'running',
    attempts = attempts + 1,
    last_error = null,
    updated_at = now()
from next_jobs
where generation_jobs.id = next_jobs.next_id
returning ` + JobColumns + `;
`

const QMarkJobCompleted = `--sql f878686a-3b79-4a4f-be7f-338f90025188
update generation_jobs
set status = 'completed',
    storage_path = $2::text,
    public_url = $3::text,
    result_asset_id = $4::text,
    last_error = null,
    updated_at = now()
where id = $1::text;
`

const QMarkJobFailed = `--sql 92b7e723-64b6-41b8-899a-19dabfa6815a
update generation_jobs
set status = 'failed',
    last_error = $2::text,
    updated_at = now()
where id = $1::text;
`

const QRequeueFailedJob = `--sql c8372ae8-6f8c-44df-ac62-69a0552b995a
update generation_jobs
set status = 'queued',
    updated_at = now()
where id = $1::text
  and status = 'failed'
returning ` + JobColumns + `;
`

const QSelectJobByID = `--sql ebafb399-5bd7-43d8-a81a-83b19c55f7cb
select ` + JobColumns + `
from generation_jobs
where id = $1::text
limit 1;
`

const QListJobs = `--sql 73bb0ffa-e23a-4e55-9613-55e9153585bf
select ` + JobColumns + `
from generation_jobs
where ($1::text = '' or status = $1::text)
order by created_at desc
limit $2::int;
`

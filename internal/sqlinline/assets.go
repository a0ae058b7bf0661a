package sqlinline

const QUpsertAsset = `--sql 9ae6a382-f145-4d03-841a-60bba4986e7c
insert into assets (id, kind, uri, metadata, alt_text, created_at, updated_at)
values ($1::text, $2::text, $3::text, coalesce($4::jsonb, '{}'::jsonb), nullif($5::text, ''), now(), now())
on conflict (id) do update set
  kind = excluded.kind,
  uri = excluded.uri,
  metadata = excluded.metadata,
  alt_text = excluded.alt_text,
  updated_at = now();
`

const QLinkContentAsset = `--sql 7829bb91-28e9-4334-ab99-ec053852cc17
insert into content_assets (content_id, asset_id, usage, created_at, updated_at)
values ($1::text, $2::text, $3::text, now(), now())
on conflict (content_id, asset_id, usage) do update set
  updated_at = now();
`

const QSelectAssetByID = `--sql 39a536f0-63cd-4795-820a-15635ae1668d
select id, kind, uri, metadata, alt_text, created_at, updated_at
from assets
where id = $1::text
limit 1;
`

const QListContentAssets = `--sql 53412a69-0dbe-46e9-808a-afca8e127bdc
select content_id, asset_id, usage, created_at, updated_at
from content_assets
where content_id = $1::text
order by usage asc, updated_at desc;
`
